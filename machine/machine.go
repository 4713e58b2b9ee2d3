// Package machine is the system control surface of the scripting runtime:
// reset, the hardware watchdog, deep sleep, interrupt masking and a few
// read-only queries about the chip.
//
// A Machine is created once at boot and lives until the next reset. Reset
// and the deep sleep calls do not return: on hardware the core is reset or
// powered down, and the next thing that runs is the boot code again.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/interrupt"
	"github.com/lopygo/machinectl/internal/logging"
)

var (
	ErrNotImplemented        = errors.New("machine: not implemented")
	ErrInvalidWakeTimeout    = errors.New("machine: wake timeout must not be negative")
	ErrInvalidWatchdogConfig = errors.New("machine: invalid watchdog configuration")
	ErrWatchdogBusy          = errors.New("machine: watchdog is being armed")
	ErrWatchdogInterrupt     = errors.New("machine: cannot allocate watchdog interrupt")
	ErrMissingPeripheral     = errors.New("machine: missing peripheral")
)

// Generic constants.
const (
	KHz = 1000
	MHz = 1000_000
)

// DefaultMain is the script run after boot.py unless SetMain chose another.
const DefaultMain = "main.py"

// Deiniter is a subsystem that can be shut down. Deinit must be idempotent:
// calling it on a subsystem that is not running is a no-op, not an error.
type Deiniter interface {
	Deinit() error
}

// Heartbeat is the periodic status indicator (the RGB LED on Pycom boards).
type Heartbeat interface {
	EnableHeartbeat(on bool)
}

// Sleeper enters deep sleep. Neither method returns on hardware.
type Sleeper interface {
	// Start sleeps until one of the configured external wake sources
	// fires.
	Start()
	// StartTimer sleeps with the RTC timer armed to wake the chip after
	// the given number of microseconds, in addition to the other wake
	// sources.
	StartTimer(us uint64)
}

// Core is the CPU running the scripting runtime.
type Core interface {
	// Spin is the body of a busy-wait loop.
	Spin()
	// Yield gives other tasks a chance to run.
	Yield()
}

// Config lists the hardware and collaborating subsystems of a Machine.
// Peripherals, CPU, Interrupts and Sleeper are required; a nil subsystem is
// treated as never initialized.
type Config struct {
	Peripherals *esp.Peripherals
	CPU         *interrupt.Controller
	Interrupts  interrupt.Allocator
	Core        Core
	Sleeper     Sleeper

	Timers    Deiniter
	Bluetooth Deiniter
	WLAN      Deiniter
	Heartbeat Heartbeat

	Logger *slog.Logger
}

// Machine is the system control state of one chip.
type Machine struct {
	p        *esp.Peripherals
	cpu      *interrupt.Controller
	core     Core
	sleeper  Sleeper
	wdt      *Watchdog
	log      *slog.Logger
	mainFile atomic.Pointer[string]

	timers    Deiniter
	bluetooth Deiniter
	wlan      Deiniter
	heartbeat Heartbeat
}

// New creates the Machine for the given hardware.
func New(cfg Config) (*Machine, error) {
	switch {
	case cfg.Peripherals == nil:
		return nil, fmt.Errorf("%w: peripherals", ErrMissingPeripheral)
	case cfg.CPU == nil:
		return nil, fmt.Errorf("%w: cpu", ErrMissingPeripheral)
	case cfg.Interrupts == nil:
		return nil, fmt.Errorf("%w: interrupt allocator", ErrMissingPeripheral)
	case cfg.Sleeper == nil:
		return nil, fmt.Errorf("%w: sleeper", ErrMissingPeripheral)
	}
	log, wdtLog := cfg.Logger, cfg.Logger
	if log == nil {
		log = logging.For(logging.ComponentMachine)
		wdtLog = logging.For(logging.ComponentWatchdog)
	}
	core := cfg.Core
	if core == nil {
		core = busyCore{}
	}
	m := &Machine{
		p:         cfg.Peripherals,
		cpu:       cfg.CPU,
		core:      core,
		sleeper:   cfg.Sleeper,
		log:       log,
		timers:    cfg.Timers,
		bluetooth: cfg.Bluetooth,
		wlan:      cfg.WLAN,
		heartbeat: cfg.Heartbeat,
	}
	m.wdt = NewWatchdog(cfg.Peripherals.TIMG0, cfg.CPU, cfg.Interrupts, wdtLog)
	return m, nil
}

// Watchdog returns the timer group 0 watchdog.
func (m *Machine) Watchdog() *Watchdog {
	return m.wdt
}

// SetMain selects the script to run after boot.py on the next soft boot.
// The name is not checked; a missing file fails when the script is run.
func (m *Machine) SetMain(filename string) {
	m.mainFile.Store(&filename)
}

// Main returns the script selected by SetMain, or DefaultMain.
func (m *Machine) Main() string {
	if p := m.mainFile.Load(); p != nil {
		return *p
	}
	return DefaultMain
}

// Idle yields the CPU to other tasks.
func (m *Machine) Idle() {
	m.core.Yield()
}

// Random returns 32 bits from the hardware random number generator.
func (m *Machine) Random() uint32 {
	return m.p.RNG.DATA.Get()
}

// Random64 combines two generator reads, high word first.
func (m *Machine) Random64() uint64 {
	n1 := m.Random()
	n2 := m.Random()
	return uint64(n1)<<32 | uint64(n2)
}

// DisableIRQ masks all interrupts and returns the previous state, to be
// passed to EnableIRQ. Tokens must be restored once each, in LIFO order;
// this is not checked.
func (m *Machine) DisableIRQ() interrupt.State {
	return m.cpu.Disable()
}

// EnableIRQ restores the interrupt state saved by DisableIRQ.
func (m *Machine) EnableIRQ(state interrupt.State) {
	m.cpu.Restore(state)
}

// EnableAllIRQ unmasks all interrupts, ignoring any outstanding DisableIRQ
// tokens. See interrupt.Controller.EnableAll for why this differs from
// EnableIRQ.
func (m *Machine) EnableAllIRQ() {
	m.cpu.EnableAll()
}

// busyCore is used when no Core is configured.
type busyCore struct{}

func (busyCore) Spin()  {}
func (busyCore) Yield() { runtime.Gosched() }
