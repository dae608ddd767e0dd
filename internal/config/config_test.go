package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/pipeline"
)

// evalSymlinks resolves symlinks for path comparison (macOS /var -> /private/var).
func evalSymlinks(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFindRoot_FromSubdirectory(t *testing.T) {
	tmpDir := evalSymlinks(t, t.TempDir())
	writeConfig(t, tmpDir, "layers: layers\n")

	// Create subdirectory to search from
	subDir := filepath.Join(tmpDir, "layers", "prod")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	// Change to subdirectory
	t.Chdir(subDir)

	root, err := FindRoot()
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindRoot_FromProjectRoot(t *testing.T) {
	tmpDir := evalSymlinks(t, t.TempDir())
	writeConfig(t, tmpDir, "")

	root, err := FindRootFrom(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindRoot_DirectoryNamedLikeConfig(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, FileName), 0755))

	_, err := FindRootFrom(tmpDir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindRoot_NoProjectRoot(t *testing.T) {
	_, err := FindRootFrom(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project root not found")
}

func TestLoad(t *testing.T) {
	tmpDir := evalSymlinks(t, t.TempDir())
	path := writeConfig(t, tmpDir, `layers: deploy/layers
layer: prod
kube:
  context: prod-admin
cluster:
  name: prod-east
  region: us-east-1
  credentials: [aws, eks, update-kubeconfig, --name, "{{ .Cluster }}", --kubeconfig, "{{ .Kubeconfig }}"]
build:
  image: registry.example.com/web
  cacheFrom: ["type=registry,ref=registry.example.com/web:cache"]
steps:
  push:
    policy: retry(3)
    timeout: 5m
  verify:
    policy: continue
verify:
  timeout: 2m
reports:
  keep: 5
  s3:
    bucket: deploy-reports
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, tmpDir, cfg.Root)
	assert.Equal(t, filepath.Join(tmpDir, "deploy", "layers"), cfg.LayersDir())
	assert.Equal(t, filepath.Join(tmpDir, ".rigger", "reports"), cfg.ReportsDir())
	assert.Equal(t, "prod", cfg.Layer)
	assert.Equal(t, pipeline.Retry(3), cfg.Steps["push"].Policy)
	assert.Equal(t, 5*time.Minute, cfg.Steps["push"].Timeout)
	assert.Equal(t, pipeline.Continue(), cfg.Steps["verify"].Policy)
	assert.Equal(t, 2*time.Minute, cfg.Verify.Timeout)
	assert.Equal(t, pipeline.DefaultVerifyInterval, cfg.Verify.Interval)
	assert.Equal(t, 5, cfg.Reports.Keep)
	assert.Equal(t, "deploy-reports", cfg.Reports.S3.Bucket)
	assert.True(t, cfg.PushEnabled())
}

func TestLoad_FindsRootFromWorkingDirectory(t *testing.T) {
	tmpDir := evalSymlinks(t, t.TempDir())
	writeConfig(t, tmpDir, "layer: staging\n")
	t.Chdir(tmpDir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, tmpDir, cfg.Root)
	assert.Equal(t, "staging", cfg.Layer)
	assert.Equal(t, "layers", cfg.Layers)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "unknown field", content: "layerz: x\n", errMsg: "field layerz not found"},
		{name: "bad policy", content: "steps:\n  push:\n    policy: sometimes\n", errMsg: "invalid policy"},
		{name: "unknown step", content: "steps:\n  deploy: {policy: abort}\n", errMsg: `unknown step "deploy"`},
		{name: "resolve cannot continue", content: "steps:\n  resolve: {policy: continue}\n", errMsg: "resolution steps always abort"},
		{name: "credentials without cluster", content: "cluster:\n  credentials: [tool]\n", errMsg: "cluster.name"},
		{name: "bad image", content: "build:\n  image: Not An Image\n", errMsg: "build.image"},
		{name: "negative keep", content: "reports:\n  keep: -1\n", errMsg: "reports.keep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layers = ""
	cfg.Reports.Keep = -1
	cfg.Steps = map[string]StepConfig{"nope": {}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layers: directory is required")
	assert.Contains(t, err.Error(), "reports.keep")
	assert.Contains(t, err.Error(), `unknown step "nope"`)
}

func TestLoad_NoProjectRoot(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryAuth(t *testing.T) {
	t.Setenv("REGISTRY_USERNAME", "ci")
	t.Setenv("REGISTRY_PASSWORD", "s3cret")

	auth := DefaultConfig().RegistryAuth()
	assert.Equal(t, pipeline.RegistryAuth{Username: "ci", Password: "s3cret"}, auth)
}

func TestDiscordWebhook(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv(cfg.Notify.DiscordWebhookEnv, "https://discord.example.com/hook")
	assert.Equal(t, "https://discord.example.com/hook", cfg.DiscordWebhook())

	cfg.Notify.DiscordWebhookEnv = ""
	assert.Empty(t, cfg.DiscordWebhook())
}

func TestGlobalTransformers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transformers = TransformerConfig{
		NamePrefix:   "prod-",
		Namespace:    "web",
		CommonLabels: map[string]string{"env": "prod"},
	}

	got := cfg.GlobalTransformers()
	assert.Equal(t, []manifest.Transformer{
		{NamePrefix: "prod-"},
		{Namespace: "web"},
		{CommonLabels: map[string]string{"env": "prod"}},
	}, got)
	for _, tr := range got {
		_, err := tr.Type()
		assert.NoError(t, err)
	}
}

func TestPipelineSettings(t *testing.T) {
	no := false
	cfg := DefaultConfig()
	cfg.Root = "/work"
	cfg.Kube.Context = "prod-admin"
	cfg.Cluster = ClusterConfig{Name: "prod-east", Region: "us-east-1"}
	cfg.Build = BuildConfig{Image: "registry.example.com/web", Dockerfile: "docker/Dockerfile", Push: &no}
	cfg.Steps = map[string]StepConfig{"apply": {Policy: pipeline.Retry(2)}}

	s := cfg.PipelineSettings("prod", "abc123")
	assert.Equal(t, "prod", s.Layer)
	assert.Equal(t, "prod-admin", s.KubeContext)
	assert.Equal(t, "prod-east", s.ClusterName)
	assert.Equal(t, "/work", s.Build.Context)
	assert.Equal(t, "/work/docker/Dockerfile", s.Build.Dockerfile)
	assert.Equal(t, "registry.example.com/web:abc123", s.Build.Reference())
	assert.Equal(t, pipeline.Retry(2), s.Steps["apply"].Policy)
	assert.False(t, cfg.PushEnabled())
}

func TestInitLogging(t *testing.T) {
	var buf bytes.Buffer
	logger, err := InitLogging("warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "step", "apply")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "apply", entry["step"])

	_, err = InitLogging("loud", &buf)
	assert.Error(t, err)
}
