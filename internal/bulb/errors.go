package bulb

import (
	"errors"

	"zigbee-go-bulb/internal/zcl"
)

var (
	// ErrBusy rejects a command the endpoint cannot take right now, such as
	// any non-identify command while identifying.
	ErrBusy = errors.New("busy")
	// ErrAttributeWriteFailed means the attribute store rejected a write.
	ErrAttributeWriteFailed = errors.New("attribute write failed")
	// ErrUnsupported is returned for commands the endpoint does not implement.
	ErrUnsupported = errors.New("unsupported")
	// ErrUnhandled marks input that was understood but maps to no action.
	// It is reported, never treated as a failure.
	ErrUnhandled = errors.New("unhandled")
)

// StatusOf maps a dispatch result to the ZCL status of the response frame.
// A zcl.StatusError in the chain wins over the generic mapping, so a
// rejected write answers READ_ONLY rather than FAILURE.
func StatusOf(err error) zcl.Status {
	if err == nil {
		return zcl.StatusSuccess
	}
	var se *zcl.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, ErrBusy):
		return zcl.StatusActionDenied
	case errors.Is(err, ErrUnsupported):
		return zcl.StatusUnsupClusterCmd
	default:
		return zcl.StatusFailure
	}
}
