package sim

import (
	"fmt"
	"time"
)

// Event is something the board did, stamped with emulated time.
type Event struct {
	At     time.Duration
	Name   string
	Detail string
}

func (e Event) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%10s %s", e.At, e.Name)
	}
	return fmt.Sprintf("%10s %s (%s)", e.At, e.Name, e.Detail)
}

func (b *Board) event(name, detail string) {
	b.mu.Lock()
	b.events = append(b.events, Event{At: b.now, Name: name, Detail: detail})
	b.mu.Unlock()
	b.log.Debug(name, "at", b.now, "detail", detail)
}

// Events returns what happened during the current or last boot, in order.
func (b *Board) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Radio is a radio subsystem (Bluetooth or WLAN).
type Radio struct {
	name   string
	b      *Board
	active bool
}

// Init brings the radio up.
func (r *Radio) Init() {
	if r.active {
		return
	}
	r.active = true
	r.b.event(r.name+" init", "")
}

// Deinit powers the radio down. It is a no-op if the radio is not running.
func (r *Radio) Deinit() error {
	if !r.active {
		return nil
	}
	r.active = false
	r.b.event(r.name+" deinit", "")
	return nil
}

// Active reports whether the radio is running.
func (r *Radio) Active() bool { return r.active }

// LED is the status LED with its heartbeat blinker.
type LED struct {
	pin int
	b   *Board
	on  bool
}

func (l *LED) EnableHeartbeat(on bool) {
	l.on = on
	state := "off"
	if on {
		state = "on"
	}
	l.b.event("heartbeat "+state, fmt.Sprintf("pin=%d", l.pin))
}

// Enabled reports whether the heartbeat is blinking.
func (l *LED) Enabled() bool { return l.on }

// Timers is the general purpose timer subsystem.
type Timers struct {
	b      *Board
	active bool
}

func (t *Timers) Deinit() error {
	if !t.active {
		return nil
	}
	t.active = false
	t.b.event("timers deinit", "")
	return nil
}

// Active reports whether any timer is running.
func (t *Timers) Active() bool { return t.active }
