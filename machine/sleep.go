package machine

import "time"

// Sleep is the light sleep call. It is not implemented and always returns
// ErrNotImplemented.
func (m *Machine) Sleep() error {
	return ErrNotImplemented
}

// DeepSleep powers down the chip until an external wake source fires. It
// does not return; waking up is a fresh boot, and ResetCause reports
// DeepSleepReset afterwards.
func (m *Machine) DeepSleep() {
	m.quiesce()
	m.log.Info("entering deep sleep")
	m.sleeper.Start()
	for {
		m.core.Spin()
	}
}

// DeepSleepTimeout is like DeepSleep, but also arms the RTC timer to wake
// the chip after d. It only returns, with ErrInvalidWakeTimeout, if d is
// negative; in that case nothing has been shut down.
func (m *Machine) DeepSleepTimeout(d time.Duration) error {
	if d < 0 {
		return ErrInvalidWakeTimeout
	}
	m.quiesce()
	us := uint64(d / time.Microsecond)
	m.log.Info("entering deep sleep", "wake_after_us", us)
	m.sleeper.StartTimer(us)
	for {
		m.core.Spin()
	}
}

// quiesce stops everything that must not straddle the sleep boundary. The
// order matters: the heartbeat shares resources with the radios, and the
// radios must be down before the power domains are cut.
func (m *Machine) quiesce() {
	if m.heartbeat != nil {
		m.heartbeat.EnableHeartbeat(false)
	}
	m.deinit("bluetooth", m.bluetooth)
	m.deinit("wlan", m.wlan)
}
