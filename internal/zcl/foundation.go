package zcl

import (
	"errors"
	"fmt"
)

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationDefaultResponse        uint8 = 0x0B
)

// Status is a ZCL status code returned in responses.
type Status uint8

const (
	StatusSuccess            Status = 0x00
	StatusFailure            Status = 0x01
	StatusNotAuthorized      Status = 0x7E
	StatusMalformedCommand   Status = 0x80
	StatusUnsupClusterCmd    Status = 0x81
	StatusUnsupGeneralCmd    Status = 0x82
	StatusInvalidField       Status = 0x85
	StatusUnsupportedAttr    Status = 0x86
	StatusInvalidValue       Status = 0x87
	StatusReadOnly           Status = 0x88
	StatusNotFound           Status = 0x8B
	StatusInvalidDataType    Status = 0x8D
	StatusActionDenied       Status = 0x93
	StatusHardwareFailure    Status = 0xC0
	StatusUnsupportedCluster Status = 0xC3
)

var statusNames = map[Status]string{
	StatusSuccess:            "SUCCESS",
	StatusFailure:            "FAILURE",
	StatusNotAuthorized:      "NOT_AUTHORIZED",
	StatusMalformedCommand:   "MALFORMED_COMMAND",
	StatusUnsupClusterCmd:    "UNSUP_CLUSTER_COMMAND",
	StatusUnsupGeneralCmd:    "UNSUP_GENERAL_COMMAND",
	StatusInvalidField:       "INVALID_FIELD",
	StatusUnsupportedAttr:    "UNSUPPORTED_ATTRIBUTE",
	StatusInvalidValue:       "INVALID_VALUE",
	StatusReadOnly:           "READ_ONLY",
	StatusNotFound:           "NOT_FOUND",
	StatusInvalidDataType:    "INVALID_DATA_TYPE",
	StatusActionDenied:       "ACTION_DENIED",
	StatusHardwareFailure:    "HARDWARE_FAILURE",
	StatusUnsupportedCluster: "UNSUPPORTED_CLUSTER",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

// StatusError is an error carrying the ZCL status a peer should receive.
type StatusError struct {
	Status Status
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return "zcl: " + e.Status.String()
	}
	return fmt.Sprintf("zcl: %s: %s", e.Status, e.Reason)
}

// Errorf builds a StatusError with a formatted reason.
func Errorf(status Status, format string, args ...interface{}) error {
	return &StatusError{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// StatusFromError extracts the ZCL status carried by err. A nil error is
// success; an error without a StatusError in its chain is a generic failure.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusFailure
}
