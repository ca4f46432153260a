// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package sched

import (
	"context"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop cancels the task, reporting whether it was still pending.
	Stop() bool
}

// Clock abstracts time for components that delay or schedule work,
// so tests can substitute a deterministic implementation.
type Clock interface {
	Now() time.Time
	// Sleep blocks for the duration or until the context is cancelled,
	// returning the context error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc schedules f to run once after the duration.
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
