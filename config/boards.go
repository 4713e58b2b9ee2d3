package config

import "sort"

// DefaultPreset is the board used when none is named.
const DefaultPreset = "lopy"

type preset struct {
	cpuMHz       int
	flash        string
	heartbeatPin int
	mac          string
}

// Board presets. The MAC addresses are in the Espressif OUI but otherwise
// made up.
var presets = map[string]preset{
	// Pycom LoPy: ESP32 with LoRa, RGB heartbeat LED on GPIO0.
	"lopy": {cpuMHz: 160, flash: "4MB", heartbeatPin: 0, mac: "24:0a:c4:00:01:10"},

	// Pycom WiPy 3.0: ESP32 with 8MB flash, RGB heartbeat LED on GPIO0.
	"wipy": {cpuMHz: 160, flash: "8MB", heartbeatPin: 0, mac: "24:0a:c4:00:02:20"},

	// Seeed Studio XIAO ESP32S3, onboard LED on GPIO21.
	//
	// - https://www.seeedstudio.com/XIAO-ESP32S3-p-5627.html
	// - https://wiki.seeedstudio.com/xiao_esp32s3_getting_started/
	"xiao-esp32s3": {cpuMHz: 240, flash: "8MB", heartbeatPin: 21, mac: "34:85:18:00:03:30"},
}

// PresetNames returns the known board names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
