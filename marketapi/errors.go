// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"errors"
	"fmt"

	"maystream/marketval"
)

var (
	// ErrNotConnected rejects subscribe/query calls outside the CONNECTED state.
	ErrNotConnected = errors.New("provider is not connected")
	// ErrNoDefaultProvider signals a subscription with no explicit provider,
	// no affinity and no configured default.
	ErrNoDefaultProvider = errors.New("no default provider configured")
	// ErrUnsupportedData signals a data type the venue cannot serve.
	ErrUnsupportedData = errors.New("data type not supported by venue")
)

// ConnectionError wraps a transport failure or timeout.
type ConnectionError struct {
	Provider marketval.ProviderId
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError signals rejected credentials.
type AuthenticationError struct {
	Provider marketval.ProviderId
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// SubscriptionError signals a venue-rejected subscribe request.
type SubscriptionError struct {
	Provider marketval.ProviderId
	Symbol   string
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: subscription for %s failed: %v", e.Provider, e.Symbol, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// NotFoundError signals an unknown provider or entity id.
type NotFoundError struct {
	Kind string
	Id   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Id)
}

// ConfigurationError signals a missing or inconsistent configuration value.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ProcessingError wraps an error thrown by a pipeline processor.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("stage %s: processing failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
