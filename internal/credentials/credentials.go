// Package credentials obtains cluster credentials by running a configured
// command. The command is an argv whose elements are templates over the
// cluster, region and kubeconfig path, with the sprig function set, e.g.
//
//	["aws", "eks", "update-kubeconfig", "--name", "{{ .Cluster }}",
//	 "--region", "{{ .Region | default \"us-east-1\" }}", "--kubeconfig", "{{ .Kubeconfig }}"]
//
// The command must write a kubeconfig to the given path.
package credentials

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/cameronsjo/rigger/internal/pipeline"
)

// Data is the template data of each argv element.
type Data struct {
	Cluster    string
	Region     string
	Kubeconfig string
}

// Fetcher runs the credential command.
type Fetcher struct {
	argv   []*template.Template
	dir    string
	logger *slog.Logger
}

var _ pipeline.CredentialFetcher = (*Fetcher)(nil)

// Option is a functional option for configuring the Fetcher.
type Option func(*Fetcher)

// WithDir sets where kubeconfig files are written. Defaults to a
// directory under the user cache directory.
func WithDir(dir string) Option {
	return func(f *Fetcher) {
		f.dir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New parses argv. Parse errors are reported here rather than at fetch time.
func New(argv []string, opts ...Option) (*Fetcher, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("credential command is empty")
	}

	f := &Fetcher{logger: slog.New(slog.DiscardHandler)}
	for i, arg := range argv {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse credential argument %d %q: %w", i, arg, err)
		}
		f.argv = append(f.argv, tmpl)
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locate cache directory: %w", err)
		}
		f.dir = filepath.Join(cache, "rigger", "kube")
	}

	return f, nil
}

// Args renders the argv for data.
func (f *Fetcher) Args(data Data) ([]string, error) {
	args := make([]string, len(f.argv))
	for i, tmpl := range f.argv {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render credential argument %d: %w", i, err)
		}
		args[i] = buf.String()
	}
	return args, nil
}

// Fetch runs the command for cluster and returns the kubeconfig path.
// Every failure wraps pipeline.ErrCredentialFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, cluster, region string) (string, error) {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", pipeline.ErrCredentialFetchFailed, f.dir, err)
	}

	data := Data{
		Cluster:    cluster,
		Region:     region,
		Kubeconfig: filepath.Join(f.dir, "kubeconfig-"+sanitize(cluster)),
	}
	args, err := f.Args(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pipeline.ErrCredentialFetchFailed, err)
	}

	f.logger.Debug("fetching cluster credentials", "cluster", cluster, "command", args[0])

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "KUBECONFIG="+data.Kubeconfig)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %w\n%s", pipeline.ErrCredentialFetchFailed, args[0], err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(data.Kubeconfig); err != nil {
		return "", fmt.Errorf("%w: %s did not write %s", pipeline.ErrCredentialFetchFailed, args[0], data.Kubeconfig)
	}

	return data.Kubeconfig, nil
}

// sanitize keeps a cluster name usable as a file name.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
