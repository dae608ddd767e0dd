package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// Step errors. Fatal errors fail a step at once, even under a retry policy.
var (
	// ErrResolution wraps any error from loading, resolving or ordering
	// documents. Fatal.
	ErrResolution = errors.New("resolution failed")

	// ErrBuildFailed indicates the container build exited non-zero.
	ErrBuildFailed = errors.New("build failed")

	// ErrPushAuthFailed indicates the registry refused the credentials. Fatal.
	ErrPushAuthFailed = errors.New("registry authentication failed")

	// ErrInvalidReference indicates an image reference that does not parse.
	// Fatal.
	ErrInvalidReference = errors.New("invalid image reference")

	// ErrPushTransientFailed indicates a push failure worth retrying.
	ErrPushTransientFailed = errors.New("push failed")

	// ErrCredentialFetchFailed indicates the credential tool failed. Fatal.
	ErrCredentialFetchFailed = errors.New("cluster credential fetch failed")

	// ErrClusterUnreachable indicates the cluster API did not answer.
	ErrClusterUnreachable = errors.New("cluster unreachable")

	// ErrApplyRejected indicates the cluster rejected one or more documents.
	ErrApplyRejected = errors.New("apply rejected")

	// ErrVerificationTimeout indicates workloads did not become ready in
	// time. Reported as a warning, never as a failure.
	ErrVerificationTimeout = errors.New("verification timed out")
)

// fatal lists the errors no retry can fix.
var fatal = []error{ErrResolution, ErrInvalidReference, ErrPushAuthFailed, ErrCredentialFetchFailed}

// IsRetryable is the default retry classifier: every error except the
// fatal ones.
func IsRetryable(err error) bool {
	for _, f := range fatal {
		if errors.Is(err, f) {
			return false
		}
	}
	return true
}

// ApplyRejectedError lists the documents the cluster did not accept.
type ApplyRejectedError struct {
	Rejected []DocumentResult
	// Skipped counts documents not attempted because a dependency failed.
	Skipped int
}

func (e *ApplyRejectedError) Error() string {
	parts := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		parts[i] = fmt.Sprintf("%s (%s)", r.ID, r.Reason)
	}
	msg := fmt.Sprintf("%s: %d document(s): %s", ErrApplyRejected, len(e.Rejected), strings.Join(parts, "; "))
	if e.Skipped > 0 {
		msg += fmt.Sprintf("; %d dependent document(s) skipped", e.Skipped)
	}
	return msg
}

func (e *ApplyRejectedError) Unwrap() error { return ErrApplyRejected }

// VerificationTimeoutError names the workloads still not ready.
type VerificationTimeoutError struct {
	Pending []manifest.ID
	Timeout time.Duration
	// Causes holds the last status error of each pending workload whose
	// status could not be read.
	Causes map[manifest.ID]error
}

func (e *VerificationTimeoutError) Error() string {
	names := make([]string, len(e.Pending))
	for i, id := range e.Pending {
		names[i] = id.String()
		if cause, ok := e.Causes[id]; ok {
			names[i] += " (" + cause.Error() + ")"
		}
	}
	return fmt.Sprintf("%s after %s: %s not ready", ErrVerificationTimeout, e.Timeout, strings.Join(names, ", "))
}

func (e *VerificationTimeoutError) Unwrap() []error {
	errs := []error{ErrVerificationTimeout}
	for _, id := range e.Pending {
		if cause, ok := e.Causes[id]; ok {
			errs = append(errs, cause)
		}
	}
	return errs
}
