// Package esp describes the ESP32 peripheral registers used by the system
// control layer: the timer group watchdog, the RTC controller, the DPORT
// clock configuration, the eFuse MAC block and the hardware RNG.
//
// Field and constant names follow the names in the ESP32 technical reference
// manual so they can be looked up directly. Only the registers this module
// touches are described.
package esp

import "github.com/lopygo/machinectl/volatile"

// Base addresses of the peripherals on the ESP32.
const (
	DPORT_BASE    = 0x3FF00000
	RTC_CNTL_BASE = 0x3FF48000
	EFUSE_BASE    = 0x3FF5A000
	TIMG0_BASE    = 0x3FF5F000
	TIMG1_BASE    = 0x3FF60000
	RNG_DATA_REG  = 0x3FF75144
)

// TIMG_WDT_WKEY_VALUE unlocks the write-protected watchdog registers when
// written to WDTWPROTECT. Any other value locks them.
const TIMG_WDT_WKEY_VALUE = 0x50D83AA1

// Watchdog stage actions, written to the WDT_STGn fields of WDTCONFIG0.
const (
	TIMG_WDT_STG_SEL_OFF          = 0
	TIMG_WDT_STG_SEL_INT          = 1
	TIMG_WDT_STG_SEL_RESET_CPU    = 2
	TIMG_WDT_STG_SEL_RESET_SYSTEM = 3
)

// TIMG_Type is a timer group. Only the watchdog and interrupt registers are
// described.
type TIMG_Type struct {
	WDTCONFIG0  volatile.Register32 // 0x48
	WDTCONFIG1  volatile.Register32 // 0x4C
	WDTCONFIG2  volatile.Register32 // 0x50
	WDTCONFIG3  volatile.Register32 // 0x54
	WDTCONFIG4  volatile.Register32 // 0x58
	WDTCONFIG5  volatile.Register32 // 0x5C
	WDTFEED     volatile.Register32 // 0x60
	WDTWPROTECT volatile.Register32 // 0x64
	INT_ENA     volatile.Register32 // 0x98
	INT_RAW     volatile.Register32 // 0x9C
	INT_ST      volatile.Register32 // 0xA0
	INT_CLR     volatile.Register32 // 0xA4
}

// Bitfields of TIMG.
const (
	// WDTCONFIG0
	TIMG_WDTCONFIG0_WDT_EN_Pos               = 31
	TIMG_WDTCONFIG0_WDT_EN                   = 1 << 31
	TIMG_WDTCONFIG0_WDT_STG0_Pos             = 29
	TIMG_WDTCONFIG0_WDT_STG0_Msk             = 0x3 << 29
	TIMG_WDTCONFIG0_WDT_STG1_Pos             = 27
	TIMG_WDTCONFIG0_WDT_STG1_Msk             = 0x3 << 27
	TIMG_WDTCONFIG0_WDT_STG2_Pos             = 25
	TIMG_WDTCONFIG0_WDT_STG2_Msk             = 0x3 << 25
	TIMG_WDTCONFIG0_WDT_STG3_Pos             = 23
	TIMG_WDTCONFIG0_WDT_STG3_Msk             = 0x3 << 23
	TIMG_WDTCONFIG0_WDT_EDGE_INT_EN          = 1 << 22
	TIMG_WDTCONFIG0_WDT_LEVEL_INT_EN         = 1 << 21
	TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Pos = 18
	TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Msk = 0x7 << 18
	TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Pos = 15
	TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Msk = 0x7 << 15
	TIMG_WDTCONFIG0_WDT_FLASHBOOT_MOD_EN     = 1 << 14

	// WDTCONFIG1
	TIMG_WDTCONFIG1_WDT_CLK_PRESCALE_Pos = 16
	TIMG_WDTCONFIG1_WDT_CLK_PRESCALE_Msk = 0xffff << 16

	// INT_ENA, INT_RAW, INT_ST, INT_CLR
	TIMG_INT_T0   = 1 << 0
	TIMG_INT_T1   = 1 << 1
	TIMG_INT_WDT  = 1 << 2
	TIMG_INT_LACT = 1 << 3
)

// SetWDTCONFIG0_WDT_EN enables or disables the watchdog.
func (o *TIMG_Type) SetWDTCONFIG0_WDT_EN(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x1, TIMG_WDTCONFIG0_WDT_EN_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_EN() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_EN) >> TIMG_WDTCONFIG0_WDT_EN_Pos
}

func (o *TIMG_Type) SetWDTCONFIG0_WDT_STG0(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x3, TIMG_WDTCONFIG0_WDT_STG0_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_STG0() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_STG0_Msk) >> TIMG_WDTCONFIG0_WDT_STG0_Pos
}

func (o *TIMG_Type) SetWDTCONFIG0_WDT_STG1(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x3, TIMG_WDTCONFIG0_WDT_STG1_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_STG1() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_STG1_Msk) >> TIMG_WDTCONFIG0_WDT_STG1_Pos
}

func (o *TIMG_Type) SetWDTCONFIG0_WDT_LEVEL_INT_EN(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x1, 21)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_LEVEL_INT_EN() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_LEVEL_INT_EN) >> 21
}

func (o *TIMG_Type) SetWDTCONFIG0_WDT_CPU_RESET_LENGTH(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x7, TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_CPU_RESET_LENGTH() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Msk) >> TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Pos
}

func (o *TIMG_Type) SetWDTCONFIG0_WDT_SYS_RESET_LENGTH(value uint32) {
	o.WDTCONFIG0.ReplaceBits(value, 0x7, TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG0_WDT_SYS_RESET_LENGTH() uint32 {
	return (o.WDTCONFIG0.Get() & TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Msk) >> TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Pos
}

func (o *TIMG_Type) SetWDTCONFIG1_WDT_CLK_PRESCALE(value uint32) {
	o.WDTCONFIG1.ReplaceBits(value, 0xffff, TIMG_WDTCONFIG1_WDT_CLK_PRESCALE_Pos)
}

func (o *TIMG_Type) GetWDTCONFIG1_WDT_CLK_PRESCALE() uint32 {
	return (o.WDTCONFIG1.Get() & TIMG_WDTCONFIG1_WDT_CLK_PRESCALE_Msk) >> TIMG_WDTCONFIG1_WDT_CLK_PRESCALE_Pos
}

// RTC_CNTL_Type is the RTC controller. It keeps its state across deep sleep
// and watchdog resets, which is why the reset reason lives here.
type RTC_CNTL_Type struct {
	RESET_STATE volatile.Register32 // 0x34
	CLK_CONF    volatile.Register32 // 0x70
	STORE4      volatile.Register32 // 0xB0, retained across deep sleep
	STORE5      volatile.Register32 // 0xB4, retained across deep sleep
}

// Bitfields of RTC_CNTL.
const (
	RTC_CNTL_RESET_STATE_RESET_CAUSE_PROCPU_Pos = 0
	RTC_CNTL_RESET_STATE_RESET_CAUSE_PROCPU_Msk = 0x3f
	RTC_CNTL_RESET_STATE_RESET_CAUSE_APPCPU_Pos = 6
	RTC_CNTL_RESET_STATE_RESET_CAUSE_APPCPU_Msk = 0x3f << 6

	RTC_CNTL_CLK_CONF_SOC_CLK_SEL_Pos = 27
	RTC_CNTL_CLK_CONF_SOC_CLK_SEL_Msk = 0x3 << 27

	// Values of SOC_CLK_SEL.
	RTC_CNTL_SOC_CLK_SEL_XTL  = 0
	RTC_CNTL_SOC_CLK_SEL_PLL  = 1
	RTC_CNTL_SOC_CLK_SEL_8M   = 2
	RTC_CNTL_SOC_CLK_SEL_APLL = 3
)

func (o *RTC_CNTL_Type) GetRESET_STATE_RESET_CAUSE_PROCPU() uint32 {
	return o.RESET_STATE.Get() & RTC_CNTL_RESET_STATE_RESET_CAUSE_PROCPU_Msk
}

func (o *RTC_CNTL_Type) SetCLK_CONF_SOC_CLK_SEL(value uint32) {
	o.CLK_CONF.ReplaceBits(value, 0x3, RTC_CNTL_CLK_CONF_SOC_CLK_SEL_Pos)
}

func (o *RTC_CNTL_Type) GetCLK_CONF_SOC_CLK_SEL() uint32 {
	return (o.CLK_CONF.Get() & RTC_CNTL_CLK_CONF_SOC_CLK_SEL_Msk) >> RTC_CNTL_CLK_CONF_SOC_CLK_SEL_Pos
}

// Reset reasons as latched by the RTC controller in RESET_STATE.
const (
	NO_MEAN                = 0
	POWERON_RESET          = 1  // Vbat power on reset
	SW_RESET               = 3  // Software reset digital core
	OWDT_RESET             = 4  // Legacy watch dog reset digital core
	DEEPSLEEP_RESET        = 5  // Deep Sleep reset digital core
	SDIO_RESET             = 6  // Reset by SLC module, reset digital core
	TG0WDT_SYS_RESET       = 7  // Timer Group0 Watch dog reset digital core
	TG1WDT_SYS_RESET       = 8  // Timer Group1 Watch dog reset digital core
	RTCWDT_SYS_RESET       = 9  // RTC Watch dog Reset digital core
	INTRUSION_RESET        = 10 // Instrusion tested to reset CPU
	TGWDT_CPU_RESET        = 11 // Time Group reset CPU
	SW_CPU_RESET           = 12 // Software reset CPU
	RTCWDT_CPU_RESET       = 13 // RTC Watch dog Reset CPU
	EXT_CPU_RESET          = 14 // for APP CPU, reseted by PRO CPU
	RTCWDT_BROWN_OUT_RESET = 15 // Reset when the vdd voltage is not stable
	RTCWDT_RTC_RESET       = 16 // RTC Watch dog reset digital core and rtc module
)

// DPORT_Type holds the CPU clock divider.
type DPORT_Type struct {
	CPU_PER_CONF volatile.Register32 // 0x3C
}

const (
	DPORT_CPU_PER_CONF_CPUPERIOD_SEL_Pos = 0
	DPORT_CPU_PER_CONF_CPUPERIOD_SEL_Msk = 0x3
)

func (o *DPORT_Type) SetCPU_PER_CONF_CPUPERIOD_SEL(value uint32) {
	o.CPU_PER_CONF.ReplaceBits(value, 0x3, DPORT_CPU_PER_CONF_CPUPERIOD_SEL_Pos)
}

func (o *DPORT_Type) GetCPU_PER_CONF_CPUPERIOD_SEL() uint32 {
	return o.CPU_PER_CONF.Get() & DPORT_CPU_PER_CONF_CPUPERIOD_SEL_Msk
}

// EFUSE_Type is the read side of eFuse block 0.
type EFUSE_Type struct {
	BLK0_RDATA1 volatile.Register32 // 0x04, MAC bytes 2..5
	BLK0_RDATA2 volatile.Register32 // 0x08, MAC bytes 0..1 and CRC-8
}

const (
	EFUSE_BLK0_RDATA2_MAC_CRC_Pos = 16
	EFUSE_BLK0_RDATA2_MAC_CRC_Msk = 0xff << 16
)

// RNG_Type is the hardware random number generator.
type RNG_Type struct {
	DATA volatile.Register32
}

// Peripherals groups the register blocks of one chip. On hardware every
// field points at its base address; on a host they are allocated by
// NewPeripherals and driven by a peripheral model.
type Peripherals struct {
	TIMG0    *TIMG_Type
	RTC_CNTL *RTC_CNTL_Type
	DPORT    *DPORT_Type
	EFUSE    *EFUSE_Type
	RNG      *RNG_Type
}

// NewPeripherals allocates a zeroed register file.
func NewPeripherals() *Peripherals {
	return &Peripherals{
		TIMG0:    new(TIMG_Type),
		RTC_CNTL: new(RTC_CNTL_Type),
		DPORT:    new(DPORT_Type),
		EFUSE:    new(EFUSE_Type),
		RNG:      new(RNG_Type),
	}
}
