package sim

import (
	"fmt"
	"time"

	"github.com/lopygo/machinectl/device/esp"
	"github.com/lopygo/machinectl/interrupt"
	"github.com/lopygo/machinectl/rtcstore"
	"github.com/lopygo/machinectl/volatile"
)

// apbMHz is the clock feeding the watchdog prescaler.
const apbMHz = 80

// wdtModel is the counting state of the timer group 0 watchdog. The
// registers hold the configuration; this holds what the silicon keeps
// internally.
type wdtModel struct {
	stage   int           // hardware stage, 0 to 3
	count   uint32        // ticks spent in stage
	elapsed time.Duration // time not yet making up a whole tick
	ignored int           // writes dropped by write protection
}

func (w *wdtModel) restart() {
	w.stage, w.count, w.elapsed = 0, 0, 0
}

// WatchdogStatus is a snapshot of the emulated watchdog.
type WatchdogStatus struct {
	Enabled       bool
	Stage         int    // hardware stage, 0 to 3
	Remaining     uint32 // ticks left in Stage
	UntilReset    uint32 // ticks until a reset stage fires, 0 if none will
	Pending       bool   // interrupt raised and not yet acknowledged
	IgnoredWrites int    // writes dropped while write protected
}

// Watchdog returns the state of the emulated watchdog.
func (b *Board) Watchdog() WatchdogStatus {
	t := b.p.TIMG0
	w := b.wdt
	st := WatchdogStatus{
		Enabled:       t.GetWDTCONFIG0_WDT_EN() != 0,
		Stage:         w.stage,
		Remaining:     remaining(stageHold(t, w.stage), w.count),
		Pending:       t.INT_RAW.HasBits(esp.TIMG_INT_WDT),
		IgnoredWrites: w.ignored,
	}
	if !st.Enabled {
		return st
	}
	total := st.Remaining
	for i := 0; i < 4; i++ {
		s := (w.stage + i) % 4
		if i > 0 {
			total += stageHold(t, s)
		}
		switch stageAction(t, s) {
		case esp.TIMG_WDT_STG_SEL_RESET_CPU, esp.TIMG_WDT_STG_SEL_RESET_SYSTEM:
			st.UntilReset = total
			return st
		}
	}
	return st
}

func remaining(hold, count uint32) uint32 {
	if count >= hold {
		return 0
	}
	return hold - count
}

func stageHold(t *esp.TIMG_Type, stage int) uint32 {
	switch stage {
	case 0:
		return t.WDTCONFIG2.Get()
	case 1:
		return t.WDTCONFIG3.Get()
	case 2:
		return t.WDTCONFIG4.Get()
	default:
		return t.WDTCONFIG5.Get()
	}
}

func stageAction(t *esp.TIMG_Type, stage int) uint32 {
	pos := esp.TIMG_WDTCONFIG0_WDT_STG0_Pos - 2*stage
	return t.WDTCONFIG0.Get() >> pos & 0x3
}

// installWatchdog puts write protection, feed and interrupt clear behaviour
// on the timer group 0 registers.
func (b *Board) installWatchdog() {
	t := b.p.TIMG0
	protect := func(name string, r *volatile.Register32, then func(old, v uint32)) {
		r.OnWrite(func(old, v uint32) uint32 {
			if t.WDTWPROTECT.Get() != esp.TIMG_WDT_WKEY_VALUE {
				b.wdt.ignored++
				b.log.Debug("write to protected register ignored", "register", name, "value", fmt.Sprintf("%#x", v))
				return old
			}
			if then != nil {
				then(old, v)
			}
			return v
		})
	}
	protect("WDTCONFIG0", &t.WDTCONFIG0, func(old, v uint32) {
		if old&esp.TIMG_WDTCONFIG0_WDT_EN == 0 && v&esp.TIMG_WDTCONFIG0_WDT_EN != 0 {
			b.wdt.restart()
		}
	})
	protect("WDTCONFIG1", &t.WDTCONFIG1, nil)
	protect("WDTCONFIG2", &t.WDTCONFIG2, nil)
	protect("WDTCONFIG3", &t.WDTCONFIG3, nil)
	protect("WDTCONFIG4", &t.WDTCONFIG4, nil)
	protect("WDTCONFIG5", &t.WDTCONFIG5, nil)
	protect("WDTFEED", &t.WDTFEED, func(_, _ uint32) {
		b.wdt.restart()
	})

	// Status registers are read only.
	readOnly := func(old, _ uint32) uint32 { return old }
	t.INT_RAW.OnWrite(readOnly)
	t.INT_ST.OnWrite(readOnly)
	t.INT_CLR.OnWrite(func(_, v uint32) uint32 {
		raw := t.INT_RAW.Get() &^ v
		t.INT_RAW.Poke(raw)
		t.INT_ST.Poke(raw & t.INT_ENA.Get())
		if raw&esp.TIMG_INT_WDT == 0 {
			b.intr.Assert(interrupt.SourceTG0WDTLevel, false)
		}
		return 0
	})
}

// tickWatchdog lets d pass on the watchdog clock, taking interrupts between
// ticks.
func (b *Board) tickWatchdog(d time.Duration) {
	t := b.p.TIMG0
	if t.GetWDTCONFIG0_WDT_EN() == 0 {
		return
	}
	prescale := t.GetWDTCONFIG1_WDT_CLK_PRESCALE()
	if prescale == 0 {
		return
	}
	tick := time.Duration(prescale) * time.Microsecond / apbMHz
	b.wdt.elapsed += d
	for b.wdt.elapsed >= tick && t.GetWDTCONFIG0_WDT_EN() != 0 {
		b.wdt.elapsed -= tick
		b.wdtTick()
		b.intr.Service()
	}
}

func (b *Board) wdtTick() {
	t := b.p.TIMG0
	w := &b.wdt
	w.count++
	if w.count < stageHold(t, w.stage) {
		return
	}
	stage := w.stage
	action := stageAction(t, stage)
	w.count = 0
	w.stage = (w.stage + 1) % 4

	switch action {
	case esp.TIMG_WDT_STG_SEL_INT:
		t.INT_RAW.Poke(t.INT_RAW.Get() | esp.TIMG_INT_WDT)
		t.INT_ST.Poke(t.INT_RAW.Get() & t.INT_ENA.Get())
		if t.GetWDTCONFIG0_WDT_LEVEL_INT_EN() != 0 {
			b.intr.Assert(interrupt.SourceTG0WDTLevel, true)
		}
		b.event("wdt interrupt", fmt.Sprintf("stage=%d", stage))
	case esp.TIMG_WDT_STG_SEL_RESET_CPU:
		b.event("wdt cpu reset", fmt.Sprintf("stage=%d", stage))
		b.terminate(Reset, rtcstore.Record{ResetReason: esp.TGWDT_CPU_RESET})
	case esp.TIMG_WDT_STG_SEL_RESET_SYSTEM:
		b.event("wdt system reset", fmt.Sprintf("stage=%d", stage))
		b.terminate(Reset, rtcstore.Record{ResetReason: esp.TG0WDT_SYS_RESET})
	}
}
