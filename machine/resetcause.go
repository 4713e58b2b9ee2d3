package machine

import "github.com/lopygo/machinectl/device/esp"

// ResetCause is the reason of the most recent boot. The numeric values are
// the ones scripts see as machine.PWRON_RESET and friends.
type ResetCause int

const (
	PowerOnReset ResetCause = iota
	HardReset
	WatchdogReset
	DeepSleepReset
	SoftReset
	BrownOutReset
)

// ResetCauses lists every reset cause, in numeric order.
var ResetCauses = []ResetCause{
	PowerOnReset,
	HardReset,
	WatchdogReset,
	DeepSleepReset,
	SoftReset,
	BrownOutReset,
}

// String returns the name scripts use for the constant.
func (c ResetCause) String() string {
	switch c {
	case PowerOnReset:
		return "PWRON_RESET"
	case HardReset:
		return "HARD_RESET"
	case WatchdogReset:
		return "WDT_RESET"
	case DeepSleepReset:
		return "DEEPSLEEP_RESET"
	case SoftReset:
		return "SOFT_RESET"
	case BrownOutReset:
		return "BROWN_OUT_RESET"
	default:
		return "UNKNOWN_RESET"
	}
}

// ResetCause reads the reset reason latched by the RTC controller. It is
// read on every call: the register only changes at the next reset, but
// nothing here relies on that.
func (m *Machine) ResetCause() ResetCause {
	return DecodeResetReason(m.p.RTC_CNTL.GetRESET_STATE_RESET_CAUSE_PROCPU())
}

// DecodeResetReason maps a raw RTC reset reason to a ResetCause. Reasons
// that have no better match, including unknown codes, count as a power-on
// reset.
func DecodeResetReason(reason uint32) ResetCause {
	switch reason {
	case esp.SW_RESET, esp.SW_CPU_RESET:
		return SoftReset
	case esp.OWDT_RESET, esp.TG0WDT_SYS_RESET, esp.TG1WDT_SYS_RESET,
		esp.RTCWDT_SYS_RESET, esp.TGWDT_CPU_RESET, esp.RTCWDT_CPU_RESET:
		return WatchdogReset
	case esp.DEEPSLEEP_RESET:
		return DeepSleepReset
	case esp.RTCWDT_BROWN_OUT_RESET:
		return BrownOutReset
	case esp.EXT_CPU_RESET, esp.SDIO_RESET, esp.INTRUSION_RESET:
		return HardReset
	default:
		return PowerOnReset
	}
}
