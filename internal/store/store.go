package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Attribute values
	SaveAttribute(rec *AttributeRecord) error
	GetAttribute(key AttributeKey) (*AttributeRecord, error)
	DeleteAttribute(key AttributeKey) error
	ListAttributes() ([]*AttributeRecord, error)

	// Network state
	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)

	// Close the store
	Close() error
}
