package domain

import (
	"errors"
	"fmt"
	"net/url"
)

// ValidationError describes a request the API rejects with 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func (r CreateSubscriptionRequest) Validate() error {
	if r.Name == "" {
		return &ValidationError{"name", "is required"}
	}
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if err := validateEvents(r.Events); err != nil {
		return err
	}
	return validatePolicy(r.RetryCount, r.TimeoutMs)
}

func (r UpdateSubscriptionRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return &ValidationError{"name", "must not be empty"}
	}
	if r.URL != nil {
		if err := validateURL(*r.URL); err != nil {
			return err
		}
	}
	if r.Events != nil {
		if err := validateEvents(*r.Events); err != nil {
			return err
		}
	}
	return validatePolicy(r.RetryCount, r.TimeoutMs)
}

func validateURL(raw string) error {
	if raw == "" {
		return &ValidationError{"url", "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{"url", "must be an absolute http or https URL"}
	}
	return nil
}

func validateEvents(events []EventKind) error {
	if len(events) == 0 {
		return &ValidationError{"events", "must contain at least one event"}
	}
	for _, e := range events {
		if !e.Valid() {
			return &ValidationError{"events", fmt.Sprintf("contains unknown event %q", e)}
		}
	}
	return nil
}

func validatePolicy(retryCount, timeoutMs *int) error {
	if retryCount != nil && *retryCount < 1 {
		return &ValidationError{"retry_count", "must be at least 1"}
	}
	if timeoutMs != nil && *timeoutMs < 1 {
		return &ValidationError{"timeout_ms", "must be positive"}
	}
	return nil
}
