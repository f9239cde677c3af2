// Package common defines shared sentinel errors used across the layers of
// addonsign. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Configuration errors (bad base URL, missing required options).
	ErrConfiguration = errors.New("invalid configuration")

	// Auth errors (token could not be signed).
	ErrTokenSigning = errors.New("token signing failed")

	// Workflow errors.
	ErrMissingField = errors.New("response is missing a required field")
)
