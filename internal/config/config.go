// Package config handles project discovery and configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/pipeline"
)

// FileName is the project configuration file. Its directory is the
// project root.
const FileName = "rigger.yaml"

// ErrNotFound indicates no rigger.yaml above the working directory.
var ErrNotFound = errors.New("project root not found (no " + FileName + ")")

// Config holds the rigger project configuration.
type Config struct {
	// Root is the project root directory (contains rigger.yaml).
	Root string `yaml:"-"`

	// Layers is the layer tree directory, relative to Root.
	Layers string `yaml:"layers"`

	// Layer is the layer deployed when none is named.
	Layer string `yaml:"layer,omitempty"`

	Kube     KubeConfig     `yaml:"kube,omitempty"`
	Cluster  ClusterConfig  `yaml:"cluster,omitempty"`
	Build    BuildConfig    `yaml:"build,omitempty"`
	Registry RegistryConfig `yaml:"registry,omitempty"`

	// Steps overrides the policy and timeout of standard steps.
	Steps map[string]StepConfig `yaml:"steps,omitempty"`

	Verify VerifyConfig `yaml:"verify,omitempty"`

	// Transformers are applied to every resolved layer.
	Transformers TransformerConfig `yaml:"transformers,omitempty"`

	// MergeKeys are strategic merge keys for every layer.
	MergeKeys map[string]string `yaml:"mergeKeys,omitempty"`

	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Reports ReportsConfig `yaml:"reports,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// KubeConfig selects the target cluster when no credential command runs.
type KubeConfig struct {
	Context    string `yaml:"context,omitempty"`
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
}

// ClusterConfig configures the credential step.
type ClusterConfig struct {
	Name   string `yaml:"name,omitempty"`
	Region string `yaml:"region,omitempty"`

	// Credentials is the credential command argv. Elements are templates
	// over .Cluster, .Region and .Kubeconfig.
	Credentials []string `yaml:"credentials,omitempty"`
}

// BuildConfig configures the build step. The step is skipped without an
// image. Tag defaults to the short hash of the HEAD commit.
type BuildConfig struct {
	Context    string   `yaml:"context,omitempty"`
	Dockerfile string   `yaml:"dockerfile,omitempty"`
	Image      string   `yaml:"image,omitempty"`
	Tag        string   `yaml:"tag,omitempty"`
	CacheFrom  []string `yaml:"cacheFrom,omitempty"`
	CacheTo    []string `yaml:"cacheTo,omitempty"`
	Platform   string   `yaml:"platform,omitempty"`
	Push       *bool    `yaml:"push,omitempty"`
}

// RegistryConfig names the environment variables holding registry
// credentials.
type RegistryConfig struct {
	UsernameEnv string `yaml:"usernameEnv,omitempty"`
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
}

// StepConfig overrides one step.
type StepConfig struct {
	Policy  pipeline.Policy `yaml:"policy,omitempty"`
	Timeout time.Duration   `yaml:"timeout,omitempty"`
}

// VerifyConfig bounds rollout verification.
type VerifyConfig struct {
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// TransformerConfig holds the global transformer values.
type TransformerConfig struct {
	NamePrefix        string            `yaml:"namePrefix,omitempty"`
	NameSuffix        string            `yaml:"nameSuffix,omitempty"`
	Namespace         string            `yaml:"namespace,omitempty"`
	CommonLabels      map[string]string `yaml:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `yaml:"commonAnnotations,omitempty"`
}

// NotifyConfig configures run outcome alerts.
type NotifyConfig struct {
	// DiscordWebhookEnv names the variable holding the webhook URL.
	DiscordWebhookEnv string `yaml:"discordWebhookEnv,omitempty"`
	// OnSuccess also alerts on successful runs.
	OnSuccess bool `yaml:"onSuccess,omitempty"`
}

// ReportsConfig configures run report archiving.
type ReportsConfig struct {
	// Dir is relative to Root.
	Dir  string   `yaml:"dir,omitempty"`
	Keep int      `yaml:"keep,omitempty"`
	S3   S3Config `yaml:"s3,omitempty"`
}

// S3Config uploads reports to a bucket when Bucket is set.
type S3Config struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// MetricsConfig pushes pipeline metrics when Pushgateway is set.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway,omitempty"`
	Job         string `yaml:"job,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Layers: "layers",
		Registry: RegistryConfig{
			UsernameEnv: "REGISTRY_USERNAME",
			PasswordEnv: "REGISTRY_PASSWORD",
		},
		Verify: VerifyConfig{
			Timeout:  pipeline.DefaultVerifyTimeout,
			Interval: pipeline.DefaultVerifyInterval,
		},
		Notify: NotifyConfig{
			DiscordWebhookEnv: "RIGGER_DISCORD_WEBHOOK",
		},
		Reports: ReportsConfig{
			Dir:  filepath.Join(".rigger", "reports"),
			Keep: 20,
		},
		Metrics: MetricsConfig{
			Job: "rigger",
		},
	}
}

// FindRoot searches upward from the current directory to find the project root.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return FindRootFrom(dir)
}

// FindRootFrom searches upward from dir for a directory holding rigger.yaml.
func FindRootFrom(dir string) (string, error) {
	for {
		if info, err := os.Stat(filepath.Join(dir, FileName)); err == nil && !info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load reads the configuration at path, or finds rigger.yaml upward from
// the working directory when path is empty. The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		root, err := FindRoot()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes configuration over the defaults. Unknown fields are errors.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Layers == "" {
		errs = append(errs, errors.New("layers: directory is required"))
	}

	known := make(map[string]bool, len(pipeline.StepNames))
	for _, name := range pipeline.StepNames {
		known[name] = true
	}
	for name, step := range c.Steps {
		if !known[name] {
			errs = append(errs, fmt.Errorf("steps: unknown step %q", name))
		}
		if step.Timeout < 0 {
			errs = append(errs, fmt.Errorf("steps.%s.timeout: must not be negative", name))
		}
		if (name == pipeline.StepResolve || name == pipeline.StepOrder) && step.Policy.Mode != "" && step.Policy.Mode != pipeline.PolicyAbort {
			errs = append(errs, fmt.Errorf("steps.%s.policy: resolution steps always abort", name))
		}
	}

	if len(c.Cluster.Credentials) > 0 && c.Cluster.Name == "" {
		errs = append(errs, errors.New("cluster.name: required with cluster.credentials"))
	}

	if c.Build.Image != "" {
		if _, err := reference.ParseNormalizedNamed(c.Build.Image); err != nil {
			errs = append(errs, fmt.Errorf("build.image: %w", err))
		}
	}

	if c.Verify.Timeout < 0 || c.Verify.Interval < 0 {
		errs = append(errs, errors.New("verify: durations must not be negative"))
	}

	if c.Reports.Keep < 0 {
		errs = append(errs, errors.New("reports.keep: must not be negative"))
	}

	return errors.Join(errs...)
}

// LayersDir returns the path to the layer tree.
func (c *Config) LayersDir() string {
	return c.path(c.Layers)
}

// ReportsDir returns the path to the local report archive.
func (c *Config) ReportsDir() string {
	return c.path(c.Reports.Dir)
}

// LockPath returns the path of the run lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Root, ".rigger", "deploy.lock")
}

func (c *Config) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// PushEnabled reports whether built images are pushed.
func (c *Config) PushEnabled() bool {
	return c.Build.Image != "" && (c.Build.Push == nil || *c.Build.Push)
}

// RegistryAuth reads registry credentials from the environment.
func (c *Config) RegistryAuth() pipeline.RegistryAuth {
	var auth pipeline.RegistryAuth
	if c.Registry.UsernameEnv != "" {
		auth.Username = os.Getenv(c.Registry.UsernameEnv)
	}
	if c.Registry.PasswordEnv != "" {
		auth.Password = os.Getenv(c.Registry.PasswordEnv)
	}
	return auth
}

// DiscordWebhook reads the Discord webhook URL from the environment.
func (c *Config) DiscordWebhook() string {
	if c.Notify.DiscordWebhookEnv == "" {
		return ""
	}
	return os.Getenv(c.Notify.DiscordWebhookEnv)
}

// GlobalTransformers returns the configured transformers, one field each,
// in a fixed order.
func (c *Config) GlobalTransformers() []manifest.Transformer {
	t := c.Transformers
	var out []manifest.Transformer
	if t.NamePrefix != "" {
		out = append(out, manifest.Transformer{NamePrefix: t.NamePrefix})
	}
	if t.NameSuffix != "" {
		out = append(out, manifest.Transformer{NameSuffix: t.NameSuffix})
	}
	if t.Namespace != "" {
		out = append(out, manifest.Transformer{Namespace: t.Namespace})
	}
	if len(t.CommonLabels) > 0 {
		out = append(out, manifest.Transformer{CommonLabels: t.CommonLabels})
	}
	if len(t.CommonAnnotations) > 0 {
		out = append(out, manifest.Transformer{CommonAnnotations: t.CommonAnnotations})
	}
	return out
}

// PipelineSettings maps the configuration onto the standard pipeline for
// layer, building tag.
func (c *Config) PipelineSettings(layer, tag string) pipeline.Settings {
	s := pipeline.Settings{
		Layer:          layer,
		KubeContext:    c.Kube.Context,
		Kubeconfig:     c.Kube.Kubeconfig,
		ClusterName:    c.Cluster.Name,
		ClusterRegion:  c.Cluster.Region,
		Auth:           c.RegistryAuth(),
		VerifyTimeout:  c.Verify.Timeout,
		VerifyInterval: c.Verify.Interval,
		Steps:          make(map[string]pipeline.StepSettings, len(c.Steps)),
	}

	if c.Build.Image != "" {
		s.Build = pipeline.BuildRequest{
			Context:    c.path(defaultString(c.Build.Context, ".")),
			Dockerfile: c.Build.Dockerfile,
			Image:      c.Build.Image,
			Tag:        tag,
			CacheFrom:  c.Build.CacheFrom,
			CacheTo:    c.Build.CacheTo,
			Platform:   c.Build.Platform,
		}
		if c.Build.Dockerfile != "" {
			s.Build.Dockerfile = c.path(c.Build.Dockerfile)
		}
	}

	for name, step := range c.Steps {
		s.Steps[name] = pipeline.StepSettings{Policy: step.Policy, Timeout: step.Timeout}
	}

	return s
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
