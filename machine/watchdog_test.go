package machine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/interrupt"
)

// traceWrites records every bus write to the watchdog registers together
// with the interrupt level at the time of the write.
func traceWrites(timg *esp.TIMG_Type, cpu *interrupt.Controller, rec *recorder) {
	hook := func(name string) func(old, value uint32) uint32 {
		return func(old, value uint32) uint32 {
			rec.add(fmt.Sprintf("%s=%#x@%d", name, value, cpu.Level()))
			return value
		}
	}
	timg.WDTWPROTECT.OnWrite(hook("WPROTECT"))
	timg.WDTCONFIG0.OnWrite(hook("CONFIG0"))
	timg.WDTCONFIG1.OnWrite(hook("CONFIG1"))
	timg.WDTCONFIG2.OnWrite(hook("CONFIG2"))
	timg.WDTCONFIG3.OnWrite(hook("CONFIG3"))
	timg.WDTFEED.OnWrite(hook("FEED"))
}

func TestArmSequence(t *testing.T) {
	f := newFixture(t)
	traceWrites(f.p.TIMG0, f.cpu, f.rec)

	cfg := WatchdogConfig{Stage0Timeout: 10, Stage1Timeout: 20, Prescale: 80 * 500, CPUResetLength: 7, SysResetLength: 7}
	if err := f.m.Watchdog().Arm(cfg); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	sysLen := uint32(7) << esp.TIMG_WDTCONFIG0_WDT_SYS_RESET_LENGTH_Pos
	cpuLen := uint32(7) << esp.TIMG_WDTCONFIG0_WDT_CPU_RESET_LENGTH_Pos
	lvl := uint32(esp.TIMG_WDTCONFIG0_WDT_LEVEL_INT_EN)
	stg0 := uint32(esp.TIMG_WDT_STG_SEL_INT) << esp.TIMG_WDTCONFIG0_WDT_STG0_Pos
	stg1 := uint32(esp.TIMG_WDT_STG_SEL_RESET_SYSTEM) << esp.TIMG_WDTCONFIG0_WDT_STG1_Pos
	en := uint32(esp.TIMG_WDTCONFIG0_WDT_EN)

	want := []string{
		fmt.Sprintf("WPROTECT=%#x@15", esp.TIMG_WDT_WKEY_VALUE),
		fmt.Sprintf("CONFIG0=%#x@15", sysLen),
		fmt.Sprintf("CONFIG0=%#x@15", sysLen|cpuLen),
		fmt.Sprintf("CONFIG0=%#x@15", sysLen|cpuLen|lvl),
		fmt.Sprintf("CONFIG0=%#x@15", sysLen|cpuLen|lvl|stg0),
		fmt.Sprintf("CONFIG0=%#x@15", sysLen|cpuLen|lvl|stg0|stg1),
		fmt.Sprintf("CONFIG1=%#x@15", uint32(40000)<<16),
		"CONFIG2=0xa@15",
		"CONFIG3=0x14@15",
		fmt.Sprintf("CONFIG0=%#x@15", sysLen|cpuLen|lvl|stg0|stg1|en),
		"FEED=0x1@15",
		"WPROTECT=0x0@15",
		"allocate",
	}
	if got := f.rec.calls; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("write sequence:\n got %v\nwant %v", got, want)
	}
	if f.alloc.level != 0 {
		t.Errorf("interrupt allocated at level %d, want interrupts restored first", f.alloc.level)
	}
	if f.m.Watchdog().Stage() != WatchdogStage0 {
		t.Errorf("stage after Arm = %v, want stage0", f.m.Watchdog().Stage())
	}
}

func TestArmRestoresOuterCriticalSection(t *testing.T) {
	f := newFixture(t)
	outer := f.cpu.Disable()
	if err := f.m.Watchdog().Arm(ResetWatchdogConfig); err != nil {
		t.Fatal(err)
	}
	if f.cpu.Level() != interrupt.LevelMax {
		t.Errorf("Arm unmasked interrupts inside caller's critical section")
	}
	f.cpu.Restore(outer)
}

func TestArmAllocatesOnce(t *testing.T) {
	f := newFixture(t)
	w := f.m.Watchdog()
	for i := 0; i < 3; i++ {
		if err := w.Arm(ResetWatchdogConfig); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.rec.String(); got != "allocate" {
		t.Errorf("allocations = %q, want a single allocate", got)
	}
}

func TestArmAllocationFailure(t *testing.T) {
	f := newFixture(t)
	f.alloc.err = interrupt.ErrNoFreeInterrupt
	w := f.m.Watchdog()
	err := w.Arm(ResetWatchdogConfig)
	if !errors.Is(err, ErrWatchdogInterrupt) {
		t.Fatalf("Arm = %v, want ErrWatchdogInterrupt", err)
	}
	if got := w.Stage(); got != WatchdogDisarmed {
		t.Errorf("stage after failed allocation = %v, want disarmed", got)
	}
	if got := f.p.TIMG0.WDTCONFIG0.Get(); got != 0 {
		t.Errorf("WDTCONFIG0 after failed allocation = %#x, want watchdog off", got)
	}
	// A later Arm tries again rather than pretending the handler exists.
	f.alloc.err = nil
	if err := w.Arm(ResetWatchdogConfig); err != nil {
		t.Fatalf("second Arm: %v", err)
	}
	if got := f.rec.String(); got != "allocate,allocate" {
		t.Errorf("allocations = %q", got)
	}
}

func TestArmBusy(t *testing.T) {
	f := newFixture(t)
	w := f.m.Watchdog()
	w.arming.Store(true)
	if err := w.Arm(ResetWatchdogConfig); !errors.Is(err, ErrWatchdogBusy) {
		t.Errorf("concurrent Arm = %v, want ErrWatchdogBusy", err)
	}
	if w.Stage() != WatchdogDisarmed {
		t.Errorf("rejected Arm changed stage to %v", w.Stage())
	}
}

func TestWatchdogConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WatchdogConfig
		wantErr bool
	}{
		{"reset config", ResetWatchdogConfig, false},
		{"long stage 1", WatchdogConfig{Stage0Timeout: 1, Stage1Timeout: 1000, Prescale: 1}, false},
		{"zero stage 0", WatchdogConfig{Stage1Timeout: 2, Prescale: 1}, true},
		{"zero stage 1", WatchdogConfig{Stage0Timeout: 2, Prescale: 1}, true},
		{"zero prescale", WatchdogConfig{Stage0Timeout: 2, Stage1Timeout: 2}, true},
		{"cpu reset length", WatchdogConfig{Stage0Timeout: 2, Stage1Timeout: 2, Prescale: 1, CPUResetLength: 8}, true},
		{"sys reset length", WatchdogConfig{Stage0Timeout: 2, Stage1Timeout: 2, Prescale: 1, SysResetLength: 8}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidWatchdogConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidWatchdogConfig", err)
			}
		})
	}

	f := newFixture(t)
	if err := f.m.Watchdog().Arm(WatchdogConfig{}); !errors.Is(err, ErrInvalidWatchdogConfig) {
		t.Errorf("Arm(invalid) = %v", err)
	}
	if f.p.TIMG0.WDTWPROTECT.Get() != 0 || f.p.TIMG0.WDTCONFIG0.Get() != 0 {
		t.Errorf("Arm(invalid) touched the registers")
	}
}

func TestWatchdogConfigTiming(t *testing.T) {
	cfg := ResetWatchdogConfig
	if got := cfg.Tick(); got != 500*time.Microsecond {
		t.Errorf("Tick() = %v, want 500µs", got)
	}
	if got := cfg.InterruptAfter(); got != time.Millisecond {
		t.Errorf("InterruptAfter() = %v, want 1ms", got)
	}
	if got := cfg.ResetAfter(); got != 2*time.Millisecond {
		t.Errorf("ResetAfter() = %v, want 2ms", got)
	}
	if cfg.InterruptAfter() >= cfg.ResetAfter() {
		t.Errorf("interrupt deadline not before reset deadline")
	}
}

func TestWatchdogInterruptHandler(t *testing.T) {
	f := newFixture(t)
	w := f.m.Watchdog()
	if err := w.Arm(ResetWatchdogConfig); err != nil {
		t.Fatal(err)
	}
	var cleared uint32
	f.p.TIMG0.INT_CLR.OnWrite(func(old, value uint32) uint32 {
		cleared |= value
		return 0
	})

	f.alloc.handler()
	if cleared&esp.TIMG_INT_WDT == 0 {
		t.Errorf("handler did not clear the WDT interrupt")
	}
	if w.Stage() != WatchdogStage1 {
		t.Errorf("stage after interrupt = %v, want stage1", w.Stage())
	}

	// A second interrupt in stage 1 acknowledges and changes nothing else.
	f.alloc.handler()
	if w.Stage() != WatchdogStage1 {
		t.Errorf("stage after second interrupt = %v", w.Stage())
	}

	w.Feed()
	if w.Stage() != WatchdogStage0 {
		t.Errorf("stage after Feed = %v, want stage0", w.Stage())
	}
}

func TestWatchdogFeedAndDisable(t *testing.T) {
	f := newFixture(t)
	w := f.m.Watchdog()

	w.Feed()
	if w.Stage() != WatchdogDisarmed {
		t.Errorf("Feed on a disarmed watchdog armed it")
	}

	if err := w.Arm(ResetWatchdogConfig); err != nil {
		t.Fatal(err)
	}
	traceWrites(f.p.TIMG0, f.cpu, f.rec)
	f.rec.calls = nil
	w.Feed()
	want := fmt.Sprintf("WPROTECT=%#x@15,FEED=0x1@15,WPROTECT=0x0@15", esp.TIMG_WDT_WKEY_VALUE)
	if got := f.rec.String(); got != want {
		t.Errorf("Feed writes = %s, want %s", got, want)
	}

	w.Disable()
	if f.p.TIMG0.WDTCONFIG0.Get() != 0 {
		t.Errorf("WDTCONFIG0 after Disable = %#x", f.p.TIMG0.WDTCONFIG0.Get())
	}
	if w.Stage() != WatchdogDisarmed {
		t.Errorf("stage after Disable = %v", w.Stage())
	}
	if f.cpu.Level() != 0 {
		t.Errorf("Disable left interrupts masked")
	}
}

func TestWatchdogStageString(t *testing.T) {
	for stage, want := range map[WatchdogStage]string{
		WatchdogDisarmed: "disarmed",
		WatchdogStage0:   "stage0",
		WatchdogStage1:   "stage1",
		WatchdogStage(9): "unknown",
	} {
		if got := stage.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", stage, got, want)
		}
	}
}
