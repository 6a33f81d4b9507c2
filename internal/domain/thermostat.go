package domain

import "time"

type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeAuto Mode = "auto"
)

type FanMode string

const (
	FanAuto FanMode = "auto"
	FanOn   FanMode = "on"
)

// ThermostatStatus is a point-in-time snapshot. It is fetched before every
// decision and never reused, since people can change the thermostat directly.
type ThermostatStatus struct {
	Mode                Mode
	HoldActive          bool
	DesiredHeatSetpoint float64
	FanMode             FanMode
	Temperature         float64
}

type AuthToken struct {
	AccessToken  string
	RefreshToken string
	// Expiry is zero when unknown, e.g. right after loading from disk.
	Expiry time.Time
}

func (t AuthToken) Expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Before(t.Expiry)
}

func (t AuthToken) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}
