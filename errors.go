/*
Copyright 2025 Parakeet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package parakeet

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnavailable is returned by the pool when no resource satisfies the
	// acquisition criteria right now. Callers may retry after a delay.
	ErrUnavailable = errors.New("no eligible resource available")

	// ErrCapacityExhausted is returned when the requested work exceeds the
	// remaining daily capacity of the whole pool.
	ErrCapacityExhausted = errors.New("pool capacity exhausted")

	// ErrCampaignNotRunnable is returned when Run is called on a campaign
	// that is cancelled or already completed.
	ErrCampaignNotRunnable = errors.New("campaign is not in a runnable state")

	// ErrResourceSuspended signals the resource hit its failure streak
	// threshold and was pulled from circulation.
	ErrResourceSuspended = errors.New("resource suspended")
)

// TransientError wraps failures worth retrying: timeouts, throttles,
// temporary network faults. Anything not wrapped in it is treated as
// permanent by the dispatch path.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, anywhere in its chain, was marked
// retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
