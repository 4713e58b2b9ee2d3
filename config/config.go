// Package config loads the description of an emulated board from a YAML
// file, with MACHINECTL_* environment variables taking precedence.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

const (
	EnvBoard       = "MACHINECTL_BOARD"
	EnvCPUMHz      = "MACHINECTL_CPU_MHZ"
	EnvMAC         = "MACHINECTL_MAC"
	EnvStateFile   = "MACHINECTL_STATE_FILE"
	EnvLogLevel    = "MACHINECTL_LOG_LEVEL"
	EnvLogFormat   = "MACHINECTL_LOG_FORMAT"
	EnvSerialPort  = "MACHINECTL_SERIAL_PORT"
	EnvSerialBaud  = "MACHINECTL_SERIAL_BAUD"
	EnvSpinQuantum = "MACHINECTL_SPIN_QUANTUM"

	DefaultBaud        = 115200
	DefaultSpinQuantum = "100us"
)

// Log holds logger settings.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Serial holds the settings of the link to a real board.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Board describes one emulated board.
type Board struct {
	Board          string `yaml:"board"`
	CPUMHz         int    `yaml:"cpu_mhz"`
	MAC            string `yaml:"mac"`
	FlashSize      string `yaml:"flash_size"`
	HeartbeatPin   int    `yaml:"heartbeat_pin"`
	InterruptLines int    `yaml:"interrupt_lines"`
	StateFile      string `yaml:"state_file"`
	SpinQuantum    string `yaml:"spin_quantum"`
	Log            Log    `yaml:"log"`
	Serial         Serial `yaml:"serial"`

	// File is the file the configuration was read from, if any.
	File string `yaml:"-"`
}

// Default returns the configuration of the default board preset.
func Default() Board {
	b, _ := FromPreset(DefaultPreset)
	return b
}

// FromPreset returns the configuration for a named board preset.
func FromPreset(name string) (Board, error) {
	p, ok := presets[name]
	if !ok {
		return Board{}, fmt.Errorf("config: unknown board %q (known: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return Board{
		Board:          name,
		CPUMHz:         p.cpuMHz,
		MAC:            p.mac,
		FlashSize:      p.flash,
		HeartbeatPin:   p.heartbeatPin,
		InterruptLines: 6,
		SpinQuantum:    DefaultSpinQuantum,
		Log:            Log{Level: "warn", Format: "text"},
		Serial:         Serial{Baud: DefaultBaud},
	}, nil
}

// Load reads a board file. An empty path yields the default board. The
// result has the environment applied and is validated.
func Load(path string) (Board, error) {
	var b Board
	if path == "" {
		b = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return Board{}, fmt.Errorf("config: %w", err)
		}
		b, err = Parse(data, path)
		if err != nil {
			return Board{}, err
		}
	}
	if err := b.ApplyEnv(os.Getenv); err != nil {
		return Board{}, err
	}
	return b, b.Validate()
}

// Parse decodes a board file. Fields missing from the file keep the values
// of the preset named by its board field.
func Parse(data []byte, filename string) (Board, error) {
	var head struct {
		Board string `yaml:"board"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Board{}, yamlErrors(err, filename)
	}
	if head.Board == "" {
		head.Board = DefaultPreset
	}
	b, err := FromPreset(head.Board)
	if err != nil {
		return Board{}, Errors{{File: filename, Line: lineOf(data, "board"), Field: "board", Msg: err.Error()}}
	}
	if err := yaml.UnmarshalStrict(data, &b); err != nil {
		return Board{}, yamlErrors(err, filename)
	}
	b.File = filename
	if errs := b.validate(data); len(errs) > 0 {
		return Board{}, errs
	}
	return b, nil
}

// ApplyEnv overrides fields from the environment.
func (b *Board) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	if name := strings.TrimSpace(getenv(EnvBoard)); name != "" && name != b.Board {
		p, err := FromPreset(name)
		if err != nil {
			return err
		}
		b.Board, b.CPUMHz, b.MAC, b.FlashSize, b.HeartbeatPin = p.Board, p.CPUMHz, p.MAC, p.FlashSize, p.HeartbeatPin
	}
	str(EnvMAC, &b.MAC)
	str(EnvStateFile, &b.StateFile)
	str(EnvLogLevel, &b.Log.Level)
	str(EnvLogFormat, &b.Log.Format)
	str(EnvSerialPort, &b.Serial.Port)
	str(EnvSpinQuantum, &b.SpinQuantum)
	if err := num(EnvCPUMHz, &b.CPUMHz); err != nil {
		return err
	}
	return num(EnvSerialBaud, &b.Serial.Baud)
}

// Validate checks every field and reports all problems at once.
func (b Board) Validate() error {
	if errs := b.validate(nil); len(errs) > 0 {
		return errs
	}
	return nil
}

func (b Board) validate(src []byte) Errors {
	var errs Errors
	add := func(field, format string, args ...any) {
		errs = append(errs, Error{File: b.File, Line: lineOf(src, field), Field: field, Msg: fmt.Sprintf(format, args...)})
	}
	switch b.CPUMHz {
	case 80, 160, 240:
	default:
		add("cpu_mhz", "must be 80, 160 or 240, not %d", b.CPUMHz)
	}
	if _, err := b.ParsedMAC(); err != nil {
		add("mac", "%v", err)
	}
	if _, err := b.FlashBytes(); err != nil {
		add("flash_size", "%v", err)
	}
	if b.InterruptLines < 1 || b.InterruptLines > 32 {
		add("interrupt_lines", "must be between 1 and 32, not %d", b.InterruptLines)
	}
	if d, err := b.Quantum(); err != nil || d <= 0 {
		add("spin_quantum", "must be a positive duration, not %q", b.SpinQuantum)
	}
	if _, err := logLevel(b.Log.Level); err != nil {
		add("level", "%v", err)
	}
	switch strings.ToLower(b.Log.Format) {
	case "", "text", "json":
	default:
		add("format", "must be text or json, not %q", b.Log.Format)
	}
	if b.Serial.Baud <= 0 {
		add("baud", "must be positive, not %d", b.Serial.Baud)
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Line < errs[j].Line })
	return errs
}

// ParsedMAC returns the MAC address as six bytes.
func (b Board) ParsedMAC() ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(b.MAC)
	if err != nil {
		return mac, err
	}
	if len(hw) != len(mac) {
		return mac, fmt.Errorf("MAC %q is not 6 bytes", b.MAC)
	}
	copy(mac[:], hw)
	return mac, nil
}

// FlashBytes returns the flash size in bytes.
func (b Board) FlashBytes() (uint64, error) {
	size, err := bytesize.Parse(b.FlashSize)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.New("flash size is zero")
	}
	return uint64(size), nil
}

// Quantum returns the emulated time that passes on every spin of a busy
// loop.
func (b Board) Quantum() (time.Duration, error) {
	return time.ParseDuration(b.SpinQuantum)
}

func logLevel(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return s, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// lineOf returns the line of the first "key:" in a YAML document, or 0.
func lineOf(src []byte, key string) int {
	if src == nil {
		return 0
	}
	sc := bufio.NewScanner(bytes.NewReader(src))
	for line := 1; sc.Scan(); line++ {
		if strings.HasPrefix(strings.TrimSpace(sc.Text()), key+":") {
			return line
		}
	}
	return 0
}
