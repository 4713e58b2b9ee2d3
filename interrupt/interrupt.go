// Package interrupt controls the interrupt mask of an Xtensa core and the
// allocation of peripheral interrupt sources to CPU interrupt lines.
//
// Critical sections are token based:
//
//	state := interrupt.Disable()
//	// ... code that must not be interrupted ...
//	interrupt.Restore(state)
//
// Nesting works by keeping every token and restoring them in strict LIFO
// order. The controller keeps no depth counter and does not check tokens:
// restoring a stale token, a token from another core, or restoring out of
// order leaves the mask in whatever state that token describes. That is a
// caller bug the controller cannot detect.
package interrupt

import "sync/atomic"

// Fields of the Xtensa processor state (PS) register.
const (
	psIntLevelMask = 0xf
	psUM           = 1 << 5
	psWOE          = 1 << 18
)

// LevelMax is the highest interrupt level. Raising INTLEVEL to LevelMax masks
// every maskable interrupt.
const LevelMax = 15

// State represents the previous interrupt state, as returned by Disable. It
// is the raw PS word and must be treated as opaque.
type State uintptr

// Level returns the interrupt level stored in the token.
func (s State) Level() int {
	return int(s & psIntLevelMask)
}

// Controller is the interrupt mask of one core.
type Controller struct {
	ps  atomic.Uint32
	isr atomic.Int32
}

// NewController returns a controller in the reset state of an Xtensa core
// after the ROM bootloader hands over: user mode, window overflow enabled,
// INTLEVEL 0.
func NewController() *Controller {
	c := &Controller{}
	c.ps.Store(psUM | psWOE)
	return c
}

// Disable raises INTLEVEL to LevelMax and returns the previous PS word, in a
// single atomic step (the rsil instruction on hardware).
func (c *Controller) Disable() State {
	for {
		old := c.ps.Load()
		if c.ps.CompareAndSwap(old, old&^psIntLevelMask|LevelMax) {
			return State(old)
		}
	}
}

// Restore writes back a PS word previously returned by Disable.
func (c *Controller) Restore(state State) {
	c.ps.Store(uint32(state))
}

// EnableAll sets INTLEVEL to 0 regardless of any outstanding Disable tokens.
//
// This is not the same as Restore: an enclosing critical section that later
// calls Restore will mask interrupts again, and code between EnableAll and
// that Restore runs unprotected. Use it only where interrupts must be on
// whatever the caller's nesting, such as the scripting enable_irq() without
// an argument.
func (c *Controller) EnableAll() {
	for {
		old := c.ps.Load()
		if c.ps.CompareAndSwap(old, old&^psIntLevelMask) {
			return
		}
	}
}

// Level returns the current INTLEVEL.
func (c *Controller) Level() int {
	return int(c.ps.Load() & psIntLevelMask)
}

// Masked reports whether an interrupt of the given priority level is
// currently blocked. An interrupt is taken only when its level is above
// INTLEVEL.
func (c *Controller) Masked(level int) bool {
	return level <= c.Level()
}

// In reports whether the core is currently running an interrupt handler.
func (c *Controller) In() bool {
	return c.isr.Load() > 0
}

// enter is the hardware side of taking an interrupt: PS.INTLEVEL is raised to
// the level of the interrupt for the duration of the handler.
func (c *Controller) enter(level int) State {
	c.isr.Add(1)
	for {
		old := c.ps.Load()
		if c.ps.CompareAndSwap(old, old&^psIntLevelMask|uint32(level)) {
			return State(old)
		}
	}
}

func (c *Controller) exit(state State) {
	c.ps.Store(uint32(state))
	c.isr.Add(-1)
}

var cpu = NewController()

// Default returns the controller of the core running the scripting runtime.
func Default() *Controller {
	return cpu
}

// Disable masks all interrupts on the default core. See Controller.Disable.
func Disable() State {
	return cpu.Disable()
}

// Restore restores the interrupt state of the default core. See
// Controller.Restore.
func Restore(state State) {
	cpu.Restore(state)
}

// EnableAll unmasks all interrupts on the default core. See
// Controller.EnableAll.
func EnableAll() {
	cpu.EnableAll()
}
