package machine

import (
	"errors"

	"github.com/lopygo/machinectl/device/esp"
)

// Clock sources of the CPU.
const (
	xtalFreq = 40 * MHz
	rc8MFreq = 8 * MHz
)

var ErrMACChecksum = errors.New("machine: eFuse MAC checksum mismatch")

// Frequency returns the CPU clock in Hz, as selected by the RTC SOC clock
// mux and the DPORT CPU period divider.
func (m *Machine) Frequency() uint32 {
	switch m.p.RTC_CNTL.GetCLK_CONF_SOC_CLK_SEL() {
	case esp.RTC_CNTL_SOC_CLK_SEL_XTL:
		return xtalFreq
	case esp.RTC_CNTL_SOC_CLK_SEL_8M:
		return rc8MFreq
	}
	// PLL (and APLL, which this runtime never selects) use the divider.
	switch m.p.DPORT.GetCPU_PER_CONF_CPUPERIOD_SEL() {
	case 0:
		return 80 * MHz
	case 1:
		return 160 * MHz
	default:
		return 240 * MHz
	}
}

// UniqueID returns the factory MAC address burned into eFuse block 0. It is
// fixed for the lifetime of the device. A checksum mismatch is logged; the
// bytes are returned anyway.
func (m *Machine) UniqueID() [6]byte {
	id, err := ReadMAC(m.p.EFUSE)
	if err != nil {
		m.log.Warn("unique id", "err", err)
	}
	return id
}

// WakeReason is meant to report which source woke the chip from deep sleep.
// The set of reasons has not been defined yet, so it always returns
// ErrNotImplemented.
func (m *Machine) WakeReason() (WakeReason, error) {
	return 0, ErrNotImplemented
}

// WakeReason identifies a deep sleep wake source. No values are defined.
type WakeReason int

// ReadMAC reads the factory MAC address from eFuse block 0 and checks it
// against the CRC-8 stored next to it.
func ReadMAC(e *esp.EFUSE_Type) ([6]byte, error) {
	low := e.BLK0_RDATA1.Get()
	high := e.BLK0_RDATA2.Get()
	mac := [6]byte{
		byte(high >> 8),
		byte(high),
		byte(low >> 24),
		byte(low >> 16),
		byte(low >> 8),
		byte(low),
	}
	stored := byte((high & esp.EFUSE_BLK0_RDATA2_MAC_CRC_Msk) >> esp.EFUSE_BLK0_RDATA2_MAC_CRC_Pos)
	if crc8(mac[:]) != stored {
		return mac, ErrMACChecksum
	}
	return mac, nil
}

// EncodeMAC returns the BLK0_RDATA1 and BLK0_RDATA2 words that hold mac and
// its checksum, as written by the factory.
func EncodeMAC(mac [6]byte) (rdata1, rdata2 uint32) {
	rdata1 = uint32(mac[2])<<24 | uint32(mac[3])<<16 | uint32(mac[4])<<8 | uint32(mac[5])
	rdata2 = uint32(crc8(mac[:]))<<esp.EFUSE_BLK0_RDATA2_MAC_CRC_Pos | uint32(mac[0])<<8 | uint32(mac[1])
	return rdata1, rdata2
}

// crc8 is the Dallas/Maxim CRC-8 (reflected polynomial 0x8c) the ROM uses
// for the MAC.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8c
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
