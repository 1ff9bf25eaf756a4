// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/poiesic/contentpulse/core"
)

// Transient model service errors.
var (
	// ErrRateLimited indicates the service rejected the call for quota reasons.
	ErrRateLimited = fmt.Errorf("rate limited: %w", core.ErrTransientExternal)

	// ErrTimeout indicates the call did not complete in time.
	ErrTimeout = fmt.Errorf("request timed out: %w", core.ErrTransientExternal)

	// ErrUnavailable indicates a network failure or a 5xx answer.
	ErrUnavailable = fmt.Errorf("service unavailable: %w", core.ErrTransientExternal)
)

// Permanent model service errors.
var (
	// ErrInvalidInput indicates the service rejected the request payload.
	ErrInvalidInput = fmt.Errorf("invalid input: %w", core.ErrPermanentExternal)

	// ErrSafetyRejected indicates the model refused the prompt.
	ErrSafetyRejected = fmt.Errorf("rejected by safety filter: %w", core.ErrPermanentExternal)

	// ErrAuthentication indicates missing or rejected credentials.
	ErrAuthentication = fmt.Errorf("authentication failed: %w", core.ErrPermanentExternal)
)

// ErrEmptyResponse indicates the service answered without usable content.
var ErrEmptyResponse = fmt.Errorf("empty response: %w", core.ErrDataIntegrity)

// ClassifyStatus maps an HTTP status code onto the error taxonomy.
// It returns nil for codes that carry no classification.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuthentication
	case code >= 500:
		return ErrUnavailable
	case code >= 400:
		return ErrInvalidInput
	default:
		return nil
	}
}

// Classify wraps err with the taxonomy sentinel that matches it. Errors that
// are already classified and context cancellation are returned unchanged.
// Unrecognized failures are treated as transient so a bounded retry gets a
// chance to recover them.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrTransientExternal) ||
		errors.Is(err, core.ErrPermanentExternal) ||
		errors.Is(err, core.ErrDataIntegrity) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", classifyMessage(err.Error()), err)
}

func classifyMessage(msg string) error {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "429", "rate limit", "resource_exhausted", "quota", "too many requests"):
		return ErrRateLimited
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return ErrTimeout
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "api key", "permission_denied"):
		return ErrAuthentication
	case containsAny(msg, "safety", "blocked", "content policy", "refus"):
		return ErrSafetyRejected
	case containsAny(msg, "400", "422", "invalid_argument", "invalid request", "bad request"):
		return ErrInvalidInput
	default:
		return ErrUnavailable
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
