package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks a backend failure worth retrying: network hiccups,
	// 5xx responses, a schedule that is not published yet.
	ErrTransient = errors.New("transient backend error")

	ErrAuthorizationExpired = errors.New("authorization expired")
	ErrAuthorizationFailed  = errors.New("authorization failed")
	// ErrNotAuthorized means no tokens were ever obtained.
	ErrNotAuthorized = fmt.Errorf("%w: no saved tokens, run the authorize command first", ErrAuthorizationFailed)

	ErrStatusUnavailable   = errors.New("thermostat status unavailable")
	ErrSetpointUnavailable = errors.New("setback setpoint unavailable")
)
