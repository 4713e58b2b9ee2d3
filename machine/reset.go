package machine

// Reset performs a hard reset of the chip. It does not return.
//
// The software timers are stopped first so none of them fires halfway
// through. The reset itself is left to the watchdog: it is armed with
// ResetWatchdogConfig and the CPU spins until stage 1 pulls the reset line.
// Intentional resets and hang resets therefore take the same path.
//
// If the watchdog cannot be armed Reset panics: spinning without a working
// watchdog would hang the device.
func (m *Machine) Reset() {
	m.log.Info("reset requested")
	m.deinit("timers", m.timers)
	if err := m.wdt.Arm(ResetWatchdogConfig); err != nil {
		panic(err)
	}
	for {
		m.core.Spin()
	}
}

// deinit shuts down an optional subsystem. Errors are logged and otherwise
// ignored: a subsystem that refuses to stop must not keep the device awake
// or alive.
func (m *Machine) deinit(name string, d Deiniter) {
	if d == nil {
		return
	}
	if err := d.Deinit(); err != nil {
		m.log.Warn("deinit failed", "subsystem", name, "err", err)
	}
}
