package interrupt

import (
	"errors"
	"sync/atomic"
)

var (
	ErrNoFreeInterrupt = errors.New("interrupt: no free CPU interrupt line")
	ErrInvalidSource   = errors.New("interrupt: invalid interrupt source")
	ErrNilHandler      = errors.New("interrupt: nil handler")
)

// Source is a peripheral interrupt source number, as routed through the
// interrupt matrix.
type Source int

// Peripheral interrupt sources used by this module.
const (
	SourceTG0T0Level   Source = 14
	SourceTG0T1Level   Source = 15
	SourceTG0WDTLevel  Source = 16
	SourceTG0LACTLevel Source = 17

	NumSources = 69
)

// Allocator binds a peripheral interrupt source to a handler.
type Allocator interface {
	Allocate(source Source, handler func()) error
}

// line is one level-triggered CPU interrupt line.
type line struct {
	level   int
	source  atomic.Int32 // -1 when free
	handler atomic.Pointer[func()]
}

// Table is the interrupt matrix of one core: a fixed set of CPU interrupt
// lines that peripheral sources can be routed to. Allocation and dispatch do
// not lock, so Service may be called from the hardware side at any time.
type Table struct {
	cpu      *Controller
	lines    []line
	asserted [NumSources]atomic.Bool
}

// NewTable returns a matrix with one free line per entry in levels, each
// taken at the given priority level.
func NewTable(cpu *Controller, levels ...int) *Table {
	t := &Table{cpu: cpu, lines: make([]line, len(levels))}
	for i, lvl := range levels {
		t.lines[i].level = lvl
		t.lines[i].source.Store(-1)
	}
	return t
}

// Allocate routes source to the first free line and installs handler on it.
// Every call consumes a line, like esp_intr_alloc without the shared flag.
func (t *Table) Allocate(source Source, handler func()) error {
	if source < 0 || source >= NumSources {
		return ErrInvalidSource
	}
	if handler == nil {
		return ErrNilHandler
	}
	for i := range t.lines {
		l := &t.lines[i]
		if l.handler.Load() != nil {
			continue
		}
		if !l.handler.CompareAndSwap(nil, &handler) {
			continue
		}
		l.source.Store(int32(source))
		return nil
	}
	return ErrNoFreeInterrupt
}

// Free returns the number of unallocated lines.
func (t *Table) Free() int {
	n := 0
	for i := range t.lines {
		if t.lines[i].handler.Load() == nil {
			n++
		}
	}
	return n
}

// Assert drives the level of a source. Peripheral models call it when a
// status bit is raised or cleared.
func (t *Table) Assert(source Source, high bool) {
	if source < 0 || source >= NumSources {
		return
	}
	t.asserted[source].Store(high)
}

// Asserted reports the current level of a source.
func (t *Table) Asserted(source Source) bool {
	if source < 0 || source >= NumSources {
		return false
	}
	return t.asserted[source].Load()
}

// Service takes every pending interrupt whose line is above the current
// INTLEVEL, running its handler once with INTLEVEL raised to the line level.
// It returns the number of handlers run. A source that stays asserted after
// its handler returns is taken again on the next call.
func (t *Table) Service() int {
	n := 0
	for i := range t.lines {
		l := &t.lines[i]
		h := l.handler.Load()
		if h == nil {
			continue
		}
		src := Source(l.source.Load())
		if src < 0 || !t.Asserted(src) || t.cpu.Masked(l.level) {
			continue
		}
		state := t.cpu.enter(l.level)
		(*h)()
		t.cpu.exit(state)
		n++
	}
	return n
}
