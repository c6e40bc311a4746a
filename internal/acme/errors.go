package acme

import "errors"

var (
	ErrNotFound      = errors.New("acme: not found")
	ErrAccountExists = errors.New("acme: account already exists")
)
