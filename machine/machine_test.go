package machine

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/interrupt"
)

// recorder collects the calls made to the fake subsystems, in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls, ",")
}

type fakeDeiniter struct {
	name string
	rec  *recorder
	err  error
}

func (d *fakeDeiniter) Deinit() error {
	d.rec.add(d.name)
	return d.err
}

type fakeHeartbeat struct{ rec *recorder }

func (h fakeHeartbeat) EnableHeartbeat(on bool) {
	if on {
		h.rec.add("heartbeat-on")
	} else {
		h.rec.add("heartbeat-off")
	}
}

// fakeSleeper ends the calling goroutine the way power-down ends the
// program.
type fakeSleeper struct {
	rec     *recorder
	wakeUS  uint64
	timed   bool
	started bool
}

func (s *fakeSleeper) Start() {
	s.started = true
	s.rec.add("sleep")
	runtime.Goexit()
}

func (s *fakeSleeper) StartTimer(us uint64) {
	s.started, s.timed, s.wakeUS = true, true, us
	s.rec.add("sleep-timer")
	runtime.Goexit()
}

// fakeCore ends the calling goroutine after a number of spins, standing in
// for the watchdog reset.
type fakeCore struct {
	spins  int
	limit  int
	yields int
}

func (c *fakeCore) Spin() {
	c.spins++
	if c.spins >= c.limit {
		runtime.Goexit()
	}
}

func (c *fakeCore) Yield() { c.yields++ }

type fakeAllocator struct {
	rec     *recorder
	cpu     *interrupt.Controller
	err     error
	source  interrupt.Source
	handler func()
	level   int
}

func (a *fakeAllocator) Allocate(source interrupt.Source, handler func()) error {
	a.rec.add("allocate")
	a.level = a.cpu.Level()
	if a.err != nil {
		return a.err
	}
	a.source, a.handler = source, handler
	return nil
}

type fixture struct {
	m       *Machine
	p       *esp.Peripherals
	cpu     *interrupt.Controller
	rec     *recorder
	core    *fakeCore
	sleeper *fakeSleeper
	alloc   *fakeAllocator
	bt      *fakeDeiniter
	wlan    *fakeDeiniter
	timers  *fakeDeiniter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	cpu := interrupt.NewController()
	f := &fixture{
		p:       esp.NewPeripherals(),
		cpu:     cpu,
		rec:     rec,
		core:    &fakeCore{limit: 10},
		sleeper: &fakeSleeper{rec: rec},
		alloc:   &fakeAllocator{rec: rec, cpu: cpu},
		bt:      &fakeDeiniter{name: "bt-deinit", rec: rec},
		wlan:    &fakeDeiniter{name: "wlan-deinit", rec: rec},
		timers:  &fakeDeiniter{name: "timer-deinit", rec: rec},
	}
	m, err := New(Config{
		Peripherals: f.p,
		CPU:         cpu,
		Interrupts:  f.alloc,
		Core:        f.core,
		Sleeper:     f.sleeper,
		Timers:      f.timers,
		Bluetooth:   f.bt,
		WLAN:        f.wlan,
		Heartbeat:   fakeHeartbeat{rec: rec},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	return f
}

// terminal runs fn, which is expected never to return normally, and reports
// whether it did.
func terminal(fn func()) (returned bool) {
	done := make(chan bool)
	go func() {
		ok := false
		defer func() { done <- ok }()
		fn()
		ok = true
	}()
	return <-done
}

func TestNewMissingPeripherals(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrMissingPeripheral) {
		t.Errorf("New(empty) = %v, want ErrMissingPeripheral", err)
	}
}

func TestDeepSleepOrder(t *testing.T) {
	f := newFixture(t)
	if terminal(f.m.DeepSleep) {
		t.Fatal("DeepSleep returned")
	}
	if got, want := f.rec.String(), "heartbeat-off,bt-deinit,wlan-deinit,sleep"; got != want {
		t.Errorf("call order = %s, want %s", got, want)
	}
	if f.sleeper.timed {
		t.Errorf("DeepSleep armed the wake timer")
	}
}

func TestDeepSleepTimeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		wantUS  uint64
	}{
		{5 * time.Second, 5_000_000},
		{5000 * time.Millisecond, 5_000_000},
		{1500 * time.Microsecond, 1500},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			f := newFixture(t)
			if terminal(func() { f.m.DeepSleepTimeout(tt.timeout) }) {
				t.Fatal("DeepSleepTimeout returned")
			}
			if got, want := f.rec.String(), "heartbeat-off,bt-deinit,wlan-deinit,sleep-timer"; got != want {
				t.Errorf("call order = %s, want %s", got, want)
			}
			if f.sleeper.wakeUS != tt.wantUS {
				t.Errorf("wake timer = %d µs, want %d", f.sleeper.wakeUS, tt.wantUS)
			}
		})
	}
}

func TestDeepSleepNegativeTimeout(t *testing.T) {
	f := newFixture(t)
	err := f.m.DeepSleepTimeout(-time.Second)
	if !errors.Is(err, ErrInvalidWakeTimeout) {
		t.Fatalf("DeepSleepTimeout(-1s) = %v, want ErrInvalidWakeTimeout", err)
	}
	if got := f.rec.String(); got != "" {
		t.Errorf("subsystems touched before rejecting timeout: %s", got)
	}
}

func TestDeepSleepDeinitErrorsIgnored(t *testing.T) {
	f := newFixture(t)
	f.bt.err = errors.New("bt: not initialized")
	terminal(f.m.DeepSleep)
	if got, want := f.rec.String(), "heartbeat-off,bt-deinit,wlan-deinit,sleep"; got != want {
		t.Errorf("call order = %s, want %s", got, want)
	}
}

func TestDeepSleepWithoutRadios(t *testing.T) {
	rec := &recorder{}
	cpu := interrupt.NewController()
	s := &fakeSleeper{rec: rec}
	m, err := New(Config{
		Peripherals: esp.NewPeripherals(),
		CPU:         cpu,
		Interrupts:  &fakeAllocator{rec: rec, cpu: cpu},
		Sleeper:     s,
	})
	if err != nil {
		t.Fatal(err)
	}
	terminal(m.DeepSleep)
	if got := rec.String(); got != "sleep" {
		t.Errorf("call order = %s, want sleep", got)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	if terminal(f.m.Reset) {
		t.Fatal("Reset returned")
	}
	if got, want := f.rec.String(), "timer-deinit,allocate"; got != want {
		t.Errorf("call order = %s, want %s", got, want)
	}
	if f.core.spins != f.core.limit {
		t.Errorf("spun %d times, want %d", f.core.spins, f.core.limit)
	}

	timg := f.p.TIMG0
	checks := []struct {
		name      string
		got, want uint32
	}{
		{"WDT_EN", timg.GetWDTCONFIG0_WDT_EN(), 1},
		{"WDT_STG0", timg.GetWDTCONFIG0_WDT_STG0(), esp.TIMG_WDT_STG_SEL_INT},
		{"WDT_STG1", timg.GetWDTCONFIG0_WDT_STG1(), esp.TIMG_WDT_STG_SEL_RESET_SYSTEM},
		{"WDT_LEVEL_INT_EN", timg.GetWDTCONFIG0_WDT_LEVEL_INT_EN(), 1},
		{"WDT_CPU_RESET_LENGTH", timg.GetWDTCONFIG0_WDT_CPU_RESET_LENGTH(), 7},
		{"WDT_SYS_RESET_LENGTH", timg.GetWDTCONFIG0_WDT_SYS_RESET_LENGTH(), 7},
		{"WDT_CLK_PRESCALE", timg.GetWDTCONFIG1_WDT_CLK_PRESCALE(), 40000},
		{"WDTCONFIG2", timg.WDTCONFIG2.Get(), 2},
		{"WDTCONFIG3", timg.WDTCONFIG3.Get(), 2},
		{"WDTFEED", timg.WDTFEED.Get(), 1},
		{"WDTWPROTECT", timg.WDTWPROTECT.Get(), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
	if f.alloc.source != interrupt.SourceTG0WDTLevel {
		t.Errorf("allocated source %d, want %d", f.alloc.source, interrupt.SourceTG0WDTLevel)
	}
}

func TestResetPanicsWhenInterruptUnavailable(t *testing.T) {
	f := newFixture(t)
	f.alloc.err = interrupt.ErrNoFreeInterrupt

	var recovered any
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { recovered = recover() }()
		f.m.Reset()
	}()
	<-done

	err, ok := recovered.(error)
	if !ok || !errors.Is(err, ErrWatchdogInterrupt) || !errors.Is(err, interrupt.ErrNoFreeInterrupt) {
		t.Errorf("Reset panicked with %v, want ErrWatchdogInterrupt wrapping ErrNoFreeInterrupt", recovered)
	}
	if f.core.spins != 0 {
		t.Errorf("Reset spun %d times without a watchdog", f.core.spins)
	}
}

func TestAccessors(t *testing.T) {
	f := newFixture(t)

	if err := f.m.Sleep(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Sleep() = %v, want ErrNotImplemented", err)
	}
	if _, err := f.m.WakeReason(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("WakeReason() error = %v, want ErrNotImplemented", err)
	}

	if got := f.m.Main(); got != DefaultMain {
		t.Errorf("Main() = %q, want %q", got, DefaultMain)
	}
	f.m.SetMain("app.py")
	if got := f.m.Main(); got != "app.py" {
		t.Errorf("Main() = %q, want app.py", got)
	}
	f.m.SetMain("")
	if got := f.m.Main(); got != "" {
		t.Errorf("Main() after SetMain(\"\") = %q, want empty", got)
	}

	f.m.Idle()
	if f.core.yields != 1 {
		t.Errorf("Idle yielded %d times, want 1", f.core.yields)
	}

	f.p.RNG.DATA.Set(0xdeadbeef)
	if got := f.m.Random(); got != 0xdeadbeef {
		t.Errorf("Random() = %#x", got)
	}
	if got := f.m.Random64(); got != 0xdeadbeef_deadbeef {
		t.Errorf("Random64() = %#x", got)
	}
}

func TestIRQ(t *testing.T) {
	f := newFixture(t)
	outer := f.m.DisableIRQ()
	inner := f.m.DisableIRQ()
	f.m.EnableIRQ(inner)
	if f.cpu.Level() != interrupt.LevelMax {
		t.Errorf("level after inner EnableIRQ = %d", f.cpu.Level())
	}
	f.m.EnableIRQ(outer)
	if f.cpu.Level() != 0 {
		t.Errorf("level after outer EnableIRQ = %d", f.cpu.Level())
	}

	f.m.DisableIRQ()
	f.m.DisableIRQ()
	f.m.EnableAllIRQ()
	if f.cpu.Level() != 0 {
		t.Errorf("level after EnableAllIRQ = %d", f.cpu.Level())
	}
}

func TestFrequency(t *testing.T) {
	tests := []struct {
		clkSel, period uint32
		want           uint32
	}{
		{esp.RTC_CNTL_SOC_CLK_SEL_XTL, 2, 40 * MHz},
		{esp.RTC_CNTL_SOC_CLK_SEL_8M, 2, 8 * MHz},
		{esp.RTC_CNTL_SOC_CLK_SEL_PLL, 0, 80 * MHz},
		{esp.RTC_CNTL_SOC_CLK_SEL_PLL, 1, 160 * MHz},
		{esp.RTC_CNTL_SOC_CLK_SEL_PLL, 2, 240 * MHz},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.p.RTC_CNTL.SetCLK_CONF_SOC_CLK_SEL(tt.clkSel)
		f.p.DPORT.SetCPU_PER_CONF_CPUPERIOD_SEL(tt.period)
		if got := f.m.Frequency(); got != tt.want {
			t.Errorf("Frequency(sel=%d, period=%d) = %d, want %d", tt.clkSel, tt.period, got, tt.want)
		}
	}
}

func TestUniqueID(t *testing.T) {
	f := newFixture(t)
	mac := [6]byte{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}
	lo, hi := EncodeMAC(mac)
	f.p.EFUSE.BLK0_RDATA1.Set(lo)
	f.p.EFUSE.BLK0_RDATA2.Set(hi)

	first := f.m.UniqueID()
	if first != mac {
		t.Fatalf("UniqueID() = % x, want % x", first, mac)
	}
	if len(first) != 6 {
		t.Fatalf("UniqueID() has %d bytes", len(first))
	}
	for i := 0; i < 3; i++ {
		if got := f.m.UniqueID(); got != first {
			t.Errorf("UniqueID() changed: % x", got)
		}
	}
	if _, err := ReadMAC(f.p.EFUSE); err != nil {
		t.Errorf("ReadMAC: %v", err)
	}

	f.p.EFUSE.BLK0_RDATA2.Set(hi ^ 1<<esp.EFUSE_BLK0_RDATA2_MAC_CRC_Pos)
	got, err := ReadMAC(f.p.EFUSE)
	if !errors.Is(err, ErrMACChecksum) {
		t.Errorf("ReadMAC with bad CRC error = %v", err)
	}
	if got != mac {
		t.Errorf("ReadMAC with bad CRC = % x, want bytes anyway", got)
	}
}

func TestCRC8(t *testing.T) {
	// Check value of CRC-8/MAXIM.
	if got := crc8([]byte("123456789")); got != 0xa1 {
		t.Errorf("crc8 = %#x, want 0xa1", got)
	}
}
