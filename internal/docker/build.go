package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/distribution/reference"

	"github.com/cameronsjo/rigger/internal/pipeline"
)

// Builder runs "docker buildx build".
type Builder struct {
	binary string
}

// NewBuilder creates a builder that runs the docker CLI.
func NewBuilder() *Builder {
	return &Builder{binary: "docker"}
}

// Build builds req and loads the result into the local image store. It
// returns the image reference. A non-zero exit wraps pipeline.ErrBuildFailed.
func (b *Builder) Build(ctx context.Context, req pipeline.BuildRequest) (string, error) {
	ref := req.Reference()
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return "", fmt.Errorf("%w: %w %q: %w", pipeline.ErrBuildFailed, pipeline.ErrInvalidReference, ref, err)
	}

	cmd := exec.CommandContext(ctx, b.binary, buildArgs(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("docker buildx build: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: docker buildx build: %w\n%s", pipeline.ErrBuildFailed, err, tail(stderr.String(), 20))
		}
		return "", fmt.Errorf("docker buildx build: %w", err)
	}

	return ref, nil
}

func buildArgs(req pipeline.BuildRequest) []string {
	args := []string{"buildx", "build", "--load", "-t", req.Reference()}
	if req.Dockerfile != "" {
		args = append(args, "-f", req.Dockerfile)
	}
	if req.Platform != "" {
		args = append(args, "--platform", req.Platform)
	}
	for _, from := range req.CacheFrom {
		args = append(args, "--cache-from", from)
	}
	for _, to := range req.CacheTo {
		args = append(args, "--cache-to", to)
	}

	dir := req.Context
	if dir == "" {
		dir = "."
	}
	return append(args, dir)
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
