package machine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/interrupt"
)

// APBClock is the clock feeding the timer groups. It does not follow CPU
// frequency changes.
const APBClock = 80 * MHz

// WatchdogConfig holds the timing of the two-stage watchdog. Timeouts are in
// watchdog ticks, whose period is Prescale APB cycles.
//
// The stages count one after the other: stage 0 raises an interrupt after
// Stage0Timeout ticks, then stage 1 resets the system Stage1Timeout ticks
// later unless the watchdog is fed in between.
type WatchdogConfig struct {
	Stage0Timeout  uint32
	Stage1Timeout  uint32
	Prescale       uint16
	CPUResetLength uint8 // 0..7, see the TRM for the pulse width of each step
	SysResetLength uint8 // 0..7
}

// ResetWatchdogConfig is the configuration Reset arms: 0.5 ms ticks, the
// interrupt after 1 ms and the system reset 1 ms later, 3.2 µs reset pulses.
var ResetWatchdogConfig = WatchdogConfig{
	Stage0Timeout:  2,
	Stage1Timeout:  2,
	Prescale:       80 * 500,
	CPUResetLength: 7,
	SysResetLength: 7,
}

// Validate checks that the configuration can be programmed and that the
// interrupt deadline comes strictly before the reset deadline.
func (c WatchdogConfig) Validate() error {
	switch {
	case c.Stage0Timeout == 0:
		return fmt.Errorf("%w: stage 0 timeout is zero", ErrInvalidWatchdogConfig)
	case c.Stage1Timeout == 0:
		return fmt.Errorf("%w: stage 1 timeout is zero", ErrInvalidWatchdogConfig)
	case c.Prescale == 0:
		return fmt.Errorf("%w: prescale is zero", ErrInvalidWatchdogConfig)
	case c.CPUResetLength > 7 || c.SysResetLength > 7:
		return fmt.Errorf("%w: reset length does not fit in 3 bits", ErrInvalidWatchdogConfig)
	}
	return nil
}

// Tick returns the period of one watchdog tick.
func (c WatchdogConfig) Tick() time.Duration {
	return time.Duration(c.Prescale) * time.Second / APBClock
}

// InterruptAfter returns the time from a feed to the stage 0 interrupt.
func (c WatchdogConfig) InterruptAfter() time.Duration {
	return time.Duration(c.Stage0Timeout) * c.Tick()
}

// ResetAfter returns the time from a feed to the system reset.
func (c WatchdogConfig) ResetAfter() time.Duration {
	return time.Duration(uint64(c.Stage0Timeout)+uint64(c.Stage1Timeout)) * c.Tick()
}

// WatchdogStage is the state of the watchdog state machine.
type WatchdogStage uint32

const (
	WatchdogDisarmed WatchdogStage = iota
	WatchdogStage0                 // counting towards the interrupt
	WatchdogStage1                 // interrupt taken, counting towards reset
)

func (s WatchdogStage) String() string {
	switch s {
	case WatchdogDisarmed:
		return "disarmed"
	case WatchdogStage0:
		return "stage0"
	case WatchdogStage1:
		return "stage1"
	default:
		return "unknown"
	}
}

// Watchdog drives the timer group 0 watchdog.
//
// It is a small state machine: Arm and Feed move it to WatchdogStage0, the
// stage 0 interrupt moves it to WatchdogStage1, and from there the hardware
// resets the system unless it is fed. The interrupt handler only
// acknowledges the interrupt; there is no recovery path other than feeding.
type Watchdog struct {
	timg      *esp.TIMG_Type
	cpu       *interrupt.Controller
	alloc     interrupt.Allocator
	log       *slog.Logger
	stage     atomic.Uint32
	arming    atomic.Bool
	allocated atomic.Bool
}

// NewWatchdog returns a disarmed watchdog for the given timer group.
func NewWatchdog(timg *esp.TIMG_Type, cpu *interrupt.Controller, alloc interrupt.Allocator, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{timg: timg, cpu: cpu, alloc: alloc, log: log}
}

// Stage returns the current state of the watchdog.
func (w *Watchdog) Stage() WatchdogStage {
	return WatchdogStage(w.stage.Load())
}

// Arm programs and starts the watchdog with cfg. The countdown starts from
// this call.
//
// The stage 0 interrupt is allocated on the first successful Arm. If that
// fails the watchdog is disabled again, since nothing would acknowledge its
// interrupt, and the error wraps ErrWatchdogInterrupt. The next Arm tries
// the allocation again.
//
// Only one Arm may run at a time; a concurrent call returns ErrWatchdogBusy.
func (w *Watchdog) Arm(cfg WatchdogConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !w.arming.CompareAndSwap(false, true) {
		return ErrWatchdogBusy
	}
	defer w.arming.Store(false)

	state := w.cpu.Disable()
	w.timg.WDTWPROTECT.Set(esp.TIMG_WDT_WKEY_VALUE)
	w.timg.SetWDTCONFIG0_WDT_SYS_RESET_LENGTH(uint32(cfg.SysResetLength))
	w.timg.SetWDTCONFIG0_WDT_CPU_RESET_LENGTH(uint32(cfg.CPUResetLength))
	w.timg.SetWDTCONFIG0_WDT_LEVEL_INT_EN(1)
	w.timg.SetWDTCONFIG0_WDT_STG0(esp.TIMG_WDT_STG_SEL_INT)
	w.timg.SetWDTCONFIG0_WDT_STG1(esp.TIMG_WDT_STG_SEL_RESET_SYSTEM)
	w.timg.SetWDTCONFIG1_WDT_CLK_PRESCALE(uint32(cfg.Prescale))
	w.timg.WDTCONFIG2.Set(cfg.Stage0Timeout)
	w.timg.WDTCONFIG3.Set(cfg.Stage1Timeout)
	w.timg.SetWDTCONFIG0_WDT_EN(1)
	w.timg.WDTFEED.Set(1)
	w.stage.Store(uint32(WatchdogStage0))
	w.timg.WDTWPROTECT.Set(0)
	w.cpu.Restore(state)

	w.log.Debug("watchdog armed",
		"stage0", cfg.Stage0Timeout,
		"stage1", cfg.Stage1Timeout,
		"tick", cfg.Tick())

	if w.allocated.CompareAndSwap(false, true) {
		if err := w.alloc.Allocate(interrupt.SourceTG0WDTLevel, w.handleInterrupt); err != nil {
			w.allocated.Store(false)
			w.Disable()
			return fmt.Errorf("%w: %w", ErrWatchdogInterrupt, err)
		}
	}
	return nil
}

// Feed restarts the countdown from stage 0.
func (w *Watchdog) Feed() {
	state := w.cpu.Disable()
	w.timg.WDTWPROTECT.Set(esp.TIMG_WDT_WKEY_VALUE)
	w.timg.WDTFEED.Set(1)
	w.timg.WDTWPROTECT.Set(0)
	if w.Stage() != WatchdogDisarmed {
		w.stage.Store(uint32(WatchdogStage0))
	}
	w.cpu.Restore(state)
}

// Disable stops the watchdog. The boot code calls this before the runtime
// starts, since the ROM may leave the watchdog running.
func (w *Watchdog) Disable() {
	state := w.cpu.Disable()
	w.timg.WDTWPROTECT.Set(esp.TIMG_WDT_WKEY_VALUE)
	w.timg.WDTCONFIG0.Set(0)
	w.timg.WDTWPROTECT.Set(0) // re-enable write protect
	w.timg.INT_CLR.Set(esp.TIMG_INT_WDT)
	w.stage.Store(uint32(WatchdogDisarmed))
	w.cpu.Restore(state)
}

// handleInterrupt runs in interrupt context: no locks, no allocation, no
// logging. Acknowledging the interrupt is all there is to do; stage 1 keeps
// counting.
func (w *Watchdog) handleInterrupt() {
	w.timg.INT_CLR.Set(esp.TIMG_INT_WDT)
	w.stage.CompareAndSwap(uint32(WatchdogStage0), uint32(WatchdogStage1))
}
