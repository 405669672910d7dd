package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrMalformedRecord = errors.New("malformed raw record")
)
