package docker

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
)

// Common test errors.
var (
	errMockPing = errors.New("mock: ping failed")
	errMockPush = errors.New("mock: connection reset by peer")
)

// MockDockerAPI is a mock implementation of DockerAPI for testing.
type MockDockerAPI struct {
	// Function overrides for each method
	PingFunc      func(ctx context.Context) (types.Ping, error)
	ImagePushFunc func(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	CloseFunc     func() error

	// Call tracking
	PingCalls      int
	ImagePushCalls int
	CloseCalls     int

	// LastPushRef and LastPushOptions record the last ImagePush call.
	LastPushRef     string
	LastPushOptions image.PushOptions
}

// NewMockDockerAPI creates a new mock with default no-op implementations.
func NewMockDockerAPI() *MockDockerAPI {
	return &MockDockerAPI{}
}

// Ping implements DockerAPI.
func (m *MockDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	m.PingCalls++
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return types.Ping{APIVersion: "1.45"}, nil
}

// ImagePush implements DockerAPI.
func (m *MockDockerAPI) ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	m.ImagePushCalls++
	m.LastPushRef = ref
	m.LastPushOptions = options
	if m.ImagePushFunc != nil {
		return m.ImagePushFunc(ctx, ref, options)
	}
	return pushStream(`{"status":"Pushed"}`), nil
}

// Close implements DockerAPI.
func (m *MockDockerAPI) Close() error {
	m.CloseCalls++
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// pushStream returns a progress stream of the given JSON messages.
func pushStream(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}
