package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/pipeline"
)

// mockProvider is a test provider that tracks sent alerts.
type mockProvider struct {
	name       string
	configured bool
	shouldFail bool
	mu         sync.Mutex
	alerts     []*Alert
}

func newMockProvider(name string, configured bool) *mockProvider {
	return &mockProvider{
		name:       name,
		configured: configured,
		alerts:     make([]*Alert, 0),
	}
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) IsConfigured() bool {
	return m.configured
}

func (m *mockProvider) Send(_ context.Context, alert *Alert) error {
	if m.shouldFail {
		return errors.New("mock send failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockProvider) getAlerts() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Alert{}, m.alerts...)
}

func TestManager_AddProvider(t *testing.T) {
	t.Run("adds configured provider", func(t *testing.T) {
		m := NewManager()
		p := newMockProvider("test", true)

		m.AddProvider(p)

		assert.True(t, m.HasProviders())
		assert.Equal(t, []string{"test"}, m.ProviderNames())
	})

	t.Run("ignores unconfigured provider", func(t *testing.T) {
		m := NewManager()
		p := newMockProvider("test", false)

		m.AddProvider(p)

		assert.False(t, m.HasProviders())
		assert.Empty(t, m.ProviderNames())
	})
}

func TestManager_Send(t *testing.T) {
	t.Run("sends to all providers", func(t *testing.T) {
		m := NewManager()
		p1 := newMockProvider("provider1", true)
		p2 := newMockProvider("provider2", true)

		m.AddProvider(p1)
		m.AddProvider(p2)

		alert := &Alert{
			Title:    "Test Alert",
			Message:  "This is a test",
			Severity: SeverityInfo,
			Source:   "test",
		}

		err := m.Send(context.Background(), alert)
		require.NoError(t, err)

		assert.Len(t, p1.getAlerts(), 1)
		assert.Len(t, p2.getAlerts(), 1)
		assert.Equal(t, "Test Alert", p1.getAlerts()[0].Title)
	})

	t.Run("returns nil with no providers", func(t *testing.T) {
		m := NewManager()

		err := m.Send(context.Background(), &Alert{Title: "Test"})
		assert.NoError(t, err)
	})

	t.Run("aggregates errors from multiple providers", func(t *testing.T) {
		m := NewManager()
		p1 := newMockProvider("provider1", true)
		p1.shouldFail = true
		p2 := newMockProvider("provider2", true)
		p2.shouldFail = true

		m.AddProvider(p1)
		m.AddProvider(p2)

		err := m.Send(context.Background(), &Alert{Title: "Test"})
		require.Error(t, err)

		// Both provider names should appear in the error.
		assert.Contains(t, err.Error(), "provider1")
		assert.Contains(t, err.Error(), "provider2")
	})

	t.Run("continues sending even if one provider fails", func(t *testing.T) {
		m := NewManager()
		p1 := newMockProvider("failing", true)
		p1.shouldFail = true
		p2 := newMockProvider("working", true)

		m.AddProvider(p1)
		m.AddProvider(p2)

		err := m.Send(context.Background(), &Alert{Title: "Test"})
		require.Error(t, err)

		// Working provider should still receive the alert.
		assert.Len(t, p2.getAlerts(), 1)
	})
}

func runReport(outcome pipeline.Outcome) *pipeline.Report {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &pipeline.Report{
		RunID:    "run-1",
		Layer:    "prod",
		Outcome:  outcome,
		Artifact: "registry.example.com/web:abc",
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
	}
}

func TestForRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a := ForRun(runReport(pipeline.OutcomeSucceeded))
		assert.Equal(t, "Deploy of prod succeeded", a.Title)
		assert.Equal(t, SeverityInfo, a.Severity)
		assert.Equal(t, "deploy", a.Source)
		assert.Equal(t, "All steps succeeded", a.Message)
		assert.Equal(t, "run-1", a.Metadata["run"])
		assert.Equal(t, "1.5s", a.Metadata["duration"])
		assert.Equal(t, "registry.example.com/web:abc", a.Metadata["artifact"])
	})

	t.Run("warnings", func(t *testing.T) {
		r := runReport(pipeline.OutcomeSucceededWithWarnings)
		r.Warnings = []string{"Deployment/web not ready"}
		a := ForRun(r)
		assert.Equal(t, "Deploy of prod succeeded with warnings", a.Title)
		assert.Equal(t, SeverityWarning, a.Severity)
		assert.Equal(t, "1 warning(s)\n- Deployment/web not ready", a.Message)
	})

	t.Run("failure lists rejections", func(t *testing.T) {
		r := runReport(pipeline.OutcomeFailed)
		r.FailedStep = "apply"
		r.Reason = "apply rejected"
		r.Documents = []pipeline.DocumentResult{
			{ID: manifest.ID{Kind: "Service", Name: "web"}, Status: pipeline.ApplyApplied},
			{ID: manifest.ID{Kind: "Deployment", Namespace: "apps", Name: "web"}, Status: pipeline.ApplyRejected, Reason: "invalid replicas"},
		}
		a := ForRun(r)
		assert.Equal(t, "Deploy of prod failed", a.Title)
		assert.Equal(t, SeverityError, a.Severity)
		assert.Equal(t, "apply", a.Metadata["step"])
		assert.Equal(t, "1", a.Metadata["rejected"])
		assert.Equal(t, "Step apply failed: apply rejected\nRejected:\n- Deployment/apps/web: invalid replicas", a.Message)
	})

	t.Run("long lists are capped", func(t *testing.T) {
		r := runReport(pipeline.OutcomeSucceededWithWarnings)
		for i := range 8 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("w%d", i))
		}
		a := ForRun(r)
		assert.Contains(t, a.Message, "- w4")
		assert.NotContains(t, a.Message, "- w5")
		assert.Contains(t, a.Message, "... and 3 more")
	})
}

func TestManager_SendRun(t *testing.T) {
	tests := []struct {
		name      string
		outcome   pipeline.Outcome
		onSuccess bool
		wantSent  bool
	}{
		{"success skipped by default", pipeline.OutcomeSucceeded, false, false},
		{"success sent when enabled", pipeline.OutcomeSucceeded, true, true},
		{"warnings always sent", pipeline.OutcomeSucceededWithWarnings, false, true},
		{"failure always sent", pipeline.OutcomeFailed, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			p := newMockProvider("test", true)
			m.AddProvider(p)

			require.NoError(t, m.SendRun(context.Background(), runReport(tt.outcome), tt.onSuccess))
			if tt.wantSent {
				assert.Len(t, p.getAlerts(), 1)
			} else {
				assert.Empty(t, p.getAlerts())
			}
		})
	}
}
