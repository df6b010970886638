package ble

import "errors"

// Error kinds surfaced by the central and peripheral role managers. Backend
// causes are joined onto these, so match with errors.Is.
var (
	ErrRadioUnavailable       = errors.New("ble: radio unavailable")
	ErrConnect                = errors.New("ble: connect failed")
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrDiscoveryTimeout       = errors.New("ble: discovery timed out")
	ErrNotReady               = errors.New("ble: not ready")
	ErrWriteInProgress        = errors.New("ble: write in progress")
	ErrWrite                  = errors.New("ble: write failed")
	ErrRead                   = errors.New("ble: read failed")
	ErrMalformedValue         = errors.New("ble: malformed value")
	ErrDisconnected           = errors.New("ble: disconnected")

	ErrAlreadyStarted    = errors.New("ble: already started")
	ErrNotConfigured     = errors.New("ble: peripheral not configured")
	ErrAlreadyConfigured = errors.New("ble: peripheral already configured")
	ErrReadNotPermitted  = errors.New("ble: characteristic is not readable")
	ErrWriteNotPermitted = errors.New("ble: characteristic is not writable")
)
