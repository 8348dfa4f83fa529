package types

import "time"

// Clock supplies the current time. Tests substitute a fixed clock so expiry
// and extraction windows are deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
