// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package config

type Config interface {
	GetAppName() string
	// Lock grants exclusive access and returns a modifiable copy.
	// Unlock needs to be called afterwards, if no error was returned.
	Lock() (*AppConfig, error)
	// Unlock releases access, persisting the copy if it was changed.
	Unlock(c *AppConfig) error
	// Copy returns a point-in-time copy without holding the lock.
	Copy() (AppConfig, error)
}
