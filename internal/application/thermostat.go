package application

import (
	"context"

	"alarm-tstat/internal/domain"
)

// ThermostatClient is the capability set the controller needs from a backend.
// The backend is chosen once at startup.
type ThermostatClient interface {
	GetStatus(ctx context.Context) (domain.ThermostatStatus, error)
	GetTodaysSetbackSetpoint(ctx context.Context) (float64, error)
	SetHoldTemperature(ctx context.Context, value float64) error
	ResumeProgram(ctx context.Context) error
}

// AccessoryController is implemented by backends with a secondary output
// (the night light on a Radio Thermostat). It is switched off while armed.
type AccessoryController interface {
	SetAccessory(ctx context.Context, on bool) error
}
