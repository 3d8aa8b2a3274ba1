// Package store defines the interface for the key/value flags the provider persists for dapp code to read ("local
// storage").
package store

import (
	"errors"
)

// DB defines required methods for flag stores
type DB interface {
	SetItem(key, value string) error
	GetItem(key string) (string, error)
	RemoveItem(key string) error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("Data was not found in store")
)
