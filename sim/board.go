// Package sim emulates the parts of an ESP32 board that the machine package
// drives: the write-protected timer group watchdog, the interrupt matrix,
// the RTC reset reason, the eFuse MAC, the clock muxes, the RNG, the radios,
// the heartbeat LED and deep sleep.
//
// Emulated time only moves when the application busy-waits or yields, so a
// test that never spins sees a frozen clock. Resets and deep sleep end the
// application goroutine and are written to an rtcstore.Store, where the next
// Boot picks them up.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/image"
	"github.com/lopygo/machinectl/internal/logging"
	"github.com/lopygo/machinectl/interrupt"
	"github.com/lopygo/machinectl/machine"
	"github.com/lopygo/machinectl/rtcstore"
)

var (
	ErrInvalidConfig  = errors.New("sim: invalid board configuration")
	ErrImageTooLarge  = errors.New("sim: firmware image does not fit in flash")
	ErrAlreadyRunning = errors.New("sim: board is already running")
)

// Config describes the emulated board.
type Config struct {
	CPUMHz         int           // 80, 160 or 240
	MAC            [6]byte       // factory MAC burned into eFuse
	FlashSize      uint64        // bytes
	Quantum        time.Duration // emulated time per busy-wait iteration
	InterruptLines int           // free level 1 CPU interrupt lines
	HeartbeatPin   int
	Store          rtcstore.Store
	Firmware       *image.Image // optional
	Seed           uint64       // RNG seed
	Logger         *slog.Logger
}

func (c *Config) setDefaults() error {
	if c.Quantum == 0 {
		c.Quantum = 100 * time.Microsecond
	}
	if c.InterruptLines == 0 {
		c.InterruptLines = 6
	}
	if c.FlashSize == 0 {
		c.FlashSize = 4 << 20
	}
	if c.Store == nil {
		c.Store = &rtcstore.MemoryStore{}
	}
	if c.Logger == nil {
		c.Logger = logging.For(logging.ComponentSim)
	}
	switch {
	case c.CPUMHz != 80 && c.CPUMHz != 160 && c.CPUMHz != 240:
		return fmt.Errorf("%w: cpu frequency %d MHz", ErrInvalidConfig, c.CPUMHz)
	case c.Quantum < 0:
		return fmt.Errorf("%w: negative quantum", ErrInvalidConfig)
	}
	if c.Firmware != nil && uint64(c.Firmware.End()) > c.FlashSize {
		return fmt.Errorf("%w: image ends at %#x, flash is %s", ErrImageTooLarge,
			c.Firmware.End(), bytesize.New(float64(c.FlashSize)))
	}
	return nil
}

// Board is one emulated board. A Board boots any number of times, one boot
// at a time; state that survives a reset lives in Config.Store.
type Board struct {
	cfg Config
	log *slog.Logger

	running sync.Mutex

	// Valid during a boot. Only the application goroutine touches these.
	p       *esp.Peripherals
	cpu     *interrupt.Controller
	intr    *interrupt.Table
	wdt     wdtModel
	rng     *rand.Rand
	now     time.Duration
	record  rtcstore.Record
	outcome Outcome

	Bluetooth *Radio
	WLAN      *Radio
	Heartbeat *LED
	Timers    *Timers

	mu     sync.Mutex
	events []Event
}

// New returns a powered-off board.
func New(cfg Config) (*Board, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &Board{cfg: cfg, log: cfg.Logger}, nil
}

// Boot powers up (or resets) the board and runs app until it returns, resets
// the chip, enters deep sleep or panics.
func (b *Board) Boot(app func(m *machine.Machine)) (Outcome, error) {
	if !b.running.TryLock() {
		return Outcome{}, ErrAlreadyRunning
	}
	defer b.running.Unlock()

	rec, err := b.cfg.Store.Load()
	switch {
	case errors.Is(err, rtcstore.ErrNoRecord):
		rec = rtcstore.Record{ResetReason: esp.POWERON_RESET}
	case errors.Is(err, rtcstore.ErrCorrupt):
		b.log.Warn("discarding retained state", "err", err)
		rec = rtcstore.Record{ResetReason: esp.POWERON_RESET}
	case err != nil:
		return Outcome{}, err
	}
	rec.BootCount++
	b.record = rec

	// Anything that ends this boot without latching a reason looks like a
	// power cut to the next one.
	next := rec
	next.ResetReason = esp.POWERON_RESET
	next.TimedWake, next.WakeAfterUS = false, 0
	if err := b.cfg.Store.Save(next); err != nil {
		return Outcome{}, err
	}

	m, err := b.powerOn(rec.ResetReason)
	if err != nil {
		return Outcome{}, err
	}
	b.log.Info("boot",
		"count", rec.BootCount,
		"reset_cause", m.ResetCause(),
		"cpu_mhz", b.cfg.CPUMHz)
	if fw := b.cfg.Firmware; fw != nil {
		b.log.Info("firmware", "size", bytesize.New(float64(fw.Size())), "crc", fmt.Sprintf("%#04x", fw.CRC16()))
	}

	// The runtime starts with the watchdog off; the ROM may have left it
	// running.
	m.Watchdog().Disable()

	b.outcome = Outcome{Kind: Returned}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.crash(r)
			}
		}()
		app(m)
	}()
	<-done

	out := b.outcome
	out.Boot = rec.BootCount
	out.Elapsed = b.now
	return out, nil
}

// powerOn puts every peripheral in its reset state.
func (b *Board) powerOn(reason uint32) (*machine.Machine, error) {
	b.now = 0
	b.p = esp.NewPeripherals()
	b.cpu = interrupt.NewController()
	levels := make([]int, b.cfg.InterruptLines)
	for i := range levels {
		levels[i] = 1
	}
	b.intr = interrupt.NewTable(b.cpu, levels...)
	b.rng = rand.New(rand.NewPCG(b.cfg.Seed, uint64(b.record.BootCount)))
	b.wdt = wdtModel{}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()

	b.p.RTC_CNTL.RESET_STATE.Poke(reason | reason<<esp.RTC_CNTL_RESET_STATE_RESET_CAUSE_APPCPU_Pos)
	b.p.RTC_CNTL.SetCLK_CONF_SOC_CLK_SEL(esp.RTC_CNTL_SOC_CLK_SEL_PLL)
	switch b.cfg.CPUMHz {
	case 80:
		b.p.DPORT.SetCPU_PER_CONF_CPUPERIOD_SEL(0)
	case 160:
		b.p.DPORT.SetCPU_PER_CONF_CPUPERIOD_SEL(1)
	case 240:
		b.p.DPORT.SetCPU_PER_CONF_CPUPERIOD_SEL(2)
	}
	lo, hi := machine.EncodeMAC(b.cfg.MAC)
	b.p.EFUSE.BLK0_RDATA1.Poke(lo)
	b.p.EFUSE.BLK0_RDATA2.Poke(hi)
	b.p.RNG.DATA.Poke(b.rng.Uint32())
	b.installWatchdog()

	b.Bluetooth = &Radio{name: "bluetooth", b: b}
	b.WLAN = &Radio{name: "wlan", b: b, active: true}
	b.Heartbeat = &LED{pin: b.cfg.HeartbeatPin, b: b, on: true}
	b.Timers = &Timers{b: b, active: true}

	return machine.New(machine.Config{
		Peripherals: b.p,
		CPU:         b.cpu,
		Interrupts:  b.intr,
		Core:        core{b},
		Sleeper:     sleeper{b},
		Timers:      b.Timers,
		Bluetooth:   b.Bluetooth,
		WLAN:        b.WLAN,
		Heartbeat:   b.Heartbeat,
	})
}

// Elapse lets d of emulated time pass, running the watchdog and servicing
// interrupts. It must be called from the application goroutine and does not
// return if the watchdog resets the chip meanwhile.
func (b *Board) Elapse(d time.Duration) {
	for d > 0 {
		step := b.cfg.Quantum
		if step > d {
			step = d
		}
		b.advance(step)
		d -= step
	}
}

// Now returns the emulated time since the current boot.
func (b *Board) Now() time.Duration {
	return b.now
}

// CPU returns the interrupt controller of the emulated core.
func (b *Board) CPU() *interrupt.Controller {
	return b.cpu
}

// Interrupts returns the interrupt matrix of the emulated core.
func (b *Board) Interrupts() *interrupt.Table {
	return b.intr
}

// Peripherals returns the register file of the current boot.
func (b *Board) Peripherals() *esp.Peripherals {
	return b.p
}

func (b *Board) advance(d time.Duration) {
	b.now += d
	b.p.RNG.DATA.Poke(b.rng.Uint32())
	b.tickWatchdog(d)
	b.intr.Service()
}

// terminate ends the boot with the given reason latched for the next one.
func (b *Board) terminate(kind OutcomeKind, rec rtcstore.Record) {
	next := b.record
	next.ResetReason = rec.ResetReason
	next.TimedWake = rec.TimedWake
	next.WakeAfterUS = rec.WakeAfterUS
	if err := b.cfg.Store.Save(next); err != nil {
		b.log.Error("saving retained state", "err", err)
	}
	b.outcome = Outcome{
		Kind:        kind,
		ResetReason: rec.ResetReason,
		TimedWake:   rec.TimedWake,
		WakeAfter:   time.Duration(rec.WakeAfterUS) * time.Microsecond,
	}
	b.event(kind.String(), fmt.Sprintf("reason=%d", rec.ResetReason))
	runtime.Goexit()
}

// crash handles a panic in the application: the panic handler prints it and
// restarts the CPU.
func (b *Board) crash(r any) {
	b.log.Error("guru meditation", "panic", r)
	next := b.record
	next.ResetReason = esp.SW_CPU_RESET
	next.TimedWake, next.WakeAfterUS = false, 0
	if err := b.cfg.Store.Save(next); err != nil {
		b.log.Error("saving retained state", "err", err)
	}
	b.outcome = Outcome{Kind: Crashed, ResetReason: esp.SW_CPU_RESET, Panic: r}
	b.event(Crashed.String(), fmt.Sprint(r))
}

// core is the busy-wait and yield hook of the emulated CPU.
type core struct{ b *Board }

func (c core) Spin()  { c.b.advance(c.b.cfg.Quantum) }
func (c core) Yield() { c.b.advance(c.b.cfg.Quantum) }

// sleeper enters deep sleep on the emulated chip.
type sleeper struct{ b *Board }

func (s sleeper) Start() {
	s.b.event("deep sleep", "")
	s.b.terminate(DeepSlept, rtcstore.Record{ResetReason: esp.DEEPSLEEP_RESET})
}

func (s sleeper) StartTimer(us uint64) {
	s.b.event("deep sleep", fmt.Sprintf("wake_after_us=%d", us))
	s.b.terminate(DeepSlept, rtcstore.Record{ResetReason: esp.DEEPSLEEP_RESET, TimedWake: true, WakeAfterUS: us})
}
