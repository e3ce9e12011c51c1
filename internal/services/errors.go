package services

import "errors"

var (
	// ErrEmailTaken is returned when the requested email is already
	// registered. Detection relies on the store's unique index, not on a
	// pre-read.
	ErrEmailTaken = errors.New("services: email already registered")
	// ErrTokenInvalid covers every failed verification attempt. Unknown,
	// consumed and expired tokens are reported identically so the response
	// leaks nothing about which accounts exist.
	ErrTokenInvalid = errors.New("services: verification token invalid")
)
