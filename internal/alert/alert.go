// Package alert notifies about finished deploy runs.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cameronsjo/rigger/internal/pipeline"
)

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert represents a notification to send.
type Alert struct {
	Title    string            // Short title/subject
	Message  string            // Full message body
	Severity Severity          // Alert severity
	Source   string            // What generated this (e.g., "deploy")
	Metadata map[string]string // Additional context (run ID, layer, etc.)
}

// Provider is an alert backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
	IsConfigured() bool
}

// Manager handles multiple alert providers.
type Manager struct {
	providers []Provider
}

// NewManager creates a new alert manager.
func NewManager() *Manager {
	return &Manager{}
}

// AddProvider adds a provider if it is configured.
func (m *Manager) AddProvider(p Provider) {
	if p.IsConfigured() {
		m.providers = append(m.providers, p)
	}
}

// Send sends an alert to all configured providers.
// Returns an aggregated error if any provider fails.
func (m *Manager) Send(ctx context.Context, alert *Alert) error {
	var errs []error
	for _, p := range m.providers {
		if err := p.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("alert errors: %w", errors.Join(errs...))
	}
	return nil
}

// HasProviders returns true if at least one provider is configured.
func (m *Manager) HasProviders() bool {
	return len(m.providers) > 0
}

// ProviderNames returns the names of all configured providers.
func (m *Manager) ProviderNames() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// SendRun alerts about a finished run. Plain successes are only sent
// when onSuccess is set.
func (m *Manager) SendRun(ctx context.Context, r *pipeline.Report, onSuccess bool) error {
	if r.Outcome == pipeline.OutcomeSucceeded && !onSuccess {
		return nil
	}
	return m.Send(ctx, ForRun(r))
}

// maxListed caps the warnings and rejections spelled out in a message.
const maxListed = 5

// ForRun builds the alert describing r.
func ForRun(r *pipeline.Report) *Alert {
	a := &Alert{
		Source: "deploy",
		Metadata: map[string]string{
			"run":      r.RunID,
			"layer":    r.Layer,
			"duration": r.Finished.Sub(r.Started).Round(time.Millisecond).String(),
			"artifact": r.Artifact,
		},
	}

	var b strings.Builder
	switch r.Outcome {
	case pipeline.OutcomeFailed:
		a.Title = fmt.Sprintf("Deploy of %s failed", r.Layer)
		a.Severity = SeverityError
		a.Metadata["step"] = r.FailedStep
		fmt.Fprintf(&b, "Step %s failed: %s", r.FailedStep, r.Reason)
	case pipeline.OutcomeSucceededWithWarnings:
		a.Title = fmt.Sprintf("Deploy of %s succeeded with warnings", r.Layer)
		a.Severity = SeverityWarning
		fmt.Fprintf(&b, "%d warning(s)", len(r.Warnings))
	default:
		a.Title = fmt.Sprintf("Deploy of %s succeeded", r.Layer)
		a.Severity = SeverityInfo
		b.WriteString("All steps succeeded")
	}

	list(&b, r.Warnings)

	var rejected []string
	for _, d := range r.Documents {
		if d.Status == pipeline.ApplyRejected {
			rejected = append(rejected, d.ID.String()+": "+d.Reason)
		}
	}
	if len(rejected) > 0 {
		a.Metadata["rejected"] = strconv.Itoa(len(rejected))
		b.WriteString("\nRejected:")
		list(&b, rejected)
	}

	a.Message = b.String()
	return a
}

func list(b *strings.Builder, items []string) {
	for i, item := range items {
		if i == maxListed {
			fmt.Fprintf(b, "\n... and %d more", len(items)-maxListed)
			return
		}
		b.WriteString("\n- " + item)
	}
}
