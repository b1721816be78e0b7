package devinfo

import (
	"errors"
	"fmt"
)

// DeviceNotReachableError means the device did not answer, or answered with nothing usable.
// It is the only error worth retrying.
type DeviceNotReachableError struct {
	Address string
	Err     error
}

func (e *DeviceNotReachableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s not reachable", e.Address)
	}
	return fmt.Sprintf("device %s not reachable: %s", e.Address, e.Err.Error())
}

func (e *DeviceNotReachableError) Unwrap() error {
	return e.Err
}

// InvalidTypeError means the device answered but is not of the family asked for
type InvalidTypeError struct {
	Address  string
	Expected Family
	Observed string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("device %s: expected a %s device, got type %s", e.Address, e.Expected, e.Observed)
}

// DeviceNotImplementedError is a known device type this bridge does not drive
type DeviceNotImplementedError struct {
	MAC  string
	Type DeviceType
}

func (e *DeviceNotImplementedError) Error() string {
	return fmt.Sprintf("device %s: type %s is not supported", e.MAC, e.Type)
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	var nr *DeviceNotReachableError
	return errors.As(err, &nr)
}
