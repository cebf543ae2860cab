// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the error type shared by every configuration check: unknown model
// types, unsupported sample rates, ambiguous dataset selections and invalid hyperparameters.
//
// Configuration is validated once, before any graph or dataset is built.
package config

import "github.com/pkg/errors"

// ErrInvalidConfig is wrapped by every configuration error, so callers can test for it
// with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// Invalidf returns an error wrapping ErrInvalidConfig with the formatted message.
func Invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

// IsInvalid returns whether err is (or wraps) a configuration error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
