// Package volatile provides memory-mapped register words.
//
// On a microcontroller these are plain volatile loads and stores. On a host
// the register is backed by an atomic word and may carry a write hook, which
// lets a peripheral model (see package sim) react to bus writes the same way
// the silicon would: ignoring writes behind a write-protect key, clearing
// write-1-to-clear bits, restarting a counter on a feed register, etc.
package volatile

import "sync/atomic"

// WriteHook is called for every bus write to a register. It receives the
// value currently latched and the value written, and returns the value that
// the register will hold afterwards.
type WriteHook func(old, value uint32) uint32

// Register32 is a single 32-bit hardware register.
type Register32 struct {
	reg  atomic.Uint32
	hook WriteHook
}

// OnWrite installs a write hook. It must be installed before the register is
// shared with other goroutines.
func (r *Register32) OnWrite(hook WriteHook) {
	r.hook = hook
}

// Get returns the value in the register.
func (r *Register32) Get() uint32 {
	return r.reg.Load()
}

// Set writes value to the register, as a bus write.
func (r *Register32) Set(value uint32) {
	if r.hook != nil {
		value = r.hook(r.reg.Load(), value)
	}
	r.reg.Store(value)
}

// Poke changes the latched value without going through the write hook. It is
// used by peripheral models to update status bits from the hardware side.
func (r *Register32) Poke(value uint32) {
	r.reg.Store(value)
}

// SetBits reads the register, sets the given bits, and writes it back.
func (r *Register32) SetBits(value uint32) {
	r.Set(r.Get() | value)
}

// ClearBits reads the register, clears the given bits, and writes it back.
func (r *Register32) ClearBits(value uint32) {
	r.Set(r.Get() &^ value)
}

// HasBits reads the register and reports whether all of the given bits are
// set.
func (r *Register32) HasBits(value uint32) bool {
	return r.Get()&value == value
}

// ReplaceBits replaces the bits selected by mask (shifted left by pos) with
// value (also shifted left by pos), as a single read-modify-write.
//
//	r.ReplaceBits(0x3, 0x3, 29) // set bits 29 and 30, leave the rest
func (r *Register32) ReplaceBits(value uint32, mask uint32, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | value&mask<<pos)
}
