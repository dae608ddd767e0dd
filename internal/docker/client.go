package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/cameronsjo/rigger/internal/pipeline"
)

// Client wraps the Docker SDK client.
type Client struct {
	api      DockerAPI
	progress io.Writer
}

// NewClient creates a new Docker client connection.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &Client{api: cli, progress: io.Discard}, nil
}

// NewClientWithAPI creates a new Docker client with a custom API implementation.
// This is primarily used for testing with mock implementations.
func NewClientWithAPI(api DockerAPI) *Client {
	return &Client{api: api, progress: io.Discard}
}

// SetProgress sets where push progress is written.
func (c *Client) SetProgress(w io.Writer) {
	c.progress = w
}

// Ping tests the connection to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.api.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}

	return nil
}

// Close closes the Docker client connection.
func (c *Client) Close() error {
	if c.api != nil {
		return c.api.Close()
	}
	return nil
}

// Push pushes ref to its registry. A malformed ref fails with
// pipeline.ErrInvalidReference, rejected credentials with
// pipeline.ErrPushAuthFailed; anything else with
// pipeline.ErrPushTransientFailed.
func (c *Client) Push(ctx context.Context, ref string, auth pipeline.RegistryAuth) error {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return fmt.Errorf("%w %q: %w", pipeline.ErrInvalidReference, ref, err)
	}

	opts := image.PushOptions{}
	if auth.Username != "" || auth.Password != "" {
		encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			ServerAddress: reference.Domain(named),
		})
		if err != nil {
			return fmt.Errorf("%w: encode registry auth: %w", pipeline.ErrPushAuthFailed, err)
		}
		opts.RegistryAuth = encoded
	}

	stream, err := c.api.ImagePush(ctx, named.String(), opts)
	if err != nil {
		return classifyPushError(ref, err)
	}
	defer stream.Close()

	// The daemon reports registry failures inside the stream, not as an
	// HTTP status.
	if err := jsonmessage.DisplayJSONMessagesStream(stream, c.progress, 0, false, nil); err != nil {
		return classifyPushError(ref, err)
	}

	return nil
}

func classifyPushError(ref string, err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: push %s: %w", pipeline.ErrPushAuthFailed, ref, err)
	}
	return fmt.Errorf("%w: push %s: %w", pipeline.ErrPushTransientFailed, ref, err)
}

func isAuthError(err error) bool {
	if cerrdefs.IsUnauthorized(err) || cerrdefs.IsPermissionDenied(err) {
		return true
	}

	var jerr *jsonmessage.JSONError
	if errors.As(err, &jerr) && (jerr.Code == 401 || jerr.Code == 403) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "authentication required", "denied", "forbidden"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
