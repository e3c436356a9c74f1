// Package store holds errors shared by persistence backends.
package store

import "errors"

// ErrNotFound reports that a referenced record does not exist.
var ErrNotFound = errors.New("record not found")
