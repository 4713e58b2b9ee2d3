package sim

import (
	"fmt"
	"time"
)

// OutcomeKind is how a boot ended.
type OutcomeKind int

const (
	Returned  OutcomeKind = iota // the application returned
	Reset                        // the chip was reset
	DeepSlept                    // the chip entered deep sleep
	Crashed                      // the application panicked
)

func (k OutcomeKind) String() string {
	switch k {
	case Returned:
		return "returned"
	case Reset:
		return "reset"
	case DeepSlept:
		return "deep sleep"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome describes the end of one boot.
type Outcome struct {
	Kind        OutcomeKind
	Boot        uint32        // boot number, starting at 1
	ResetReason uint32        // RTC reset reason latched for the next boot
	TimedWake   bool          // deep sleep with a wake timer
	WakeAfter   time.Duration // wake timer, if TimedWake
	Elapsed     time.Duration // emulated time spent in this boot
	Panic       any           // the panic value, if Crashed
}

func (o Outcome) String() string {
	switch o.Kind {
	case DeepSlept:
		if o.TimedWake {
			return fmt.Sprintf("boot %d: deep sleep after %s, wake in %s", o.Boot, o.Elapsed, o.WakeAfter)
		}
		return fmt.Sprintf("boot %d: deep sleep after %s, no wake timer", o.Boot, o.Elapsed)
	case Crashed:
		return fmt.Sprintf("boot %d: crashed after %s: %v", o.Boot, o.Elapsed, o.Panic)
	case Reset:
		return fmt.Sprintf("boot %d: reset after %s (reason %d)", o.Boot, o.Elapsed, o.ResetReason)
	default:
		return fmt.Sprintf("boot %d: %s after %s", o.Boot, o.Kind, o.Elapsed)
	}
}
