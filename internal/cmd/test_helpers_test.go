package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/pipeline"
	"github.com/cameronsjo/rigger/internal/ui"
)

// resetFlags restores every flag variable to its default. Cobra keeps
// parsed values on package-level vars between executions.
func resetFlags() {
	rootDir, configPath, logLevel = "", "", "warn"
	buildOutput = ""
	deployPlan = false
	reportsLimit = 10
	checkOnly = false
}

// executeCmd executes the root command with the given args and returns the output.
// This handles proper state reset between test executions.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	buf := new(bytes.Buffer)
	oldOutput, oldNoColor := ui.Output, color.NoColor
	ui.Output, color.NoColor = buf, true
	t.Cleanup(func() {
		ui.Output, color.NoColor = oldOutput, oldNoColor
	})

	// Important: Set args BEFORE setting output buffers
	rootCmd.SetArgs(args)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const appYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 2
  template:
    spec:
      containers:
        - name: web
          image: registry.example.com/web:latest
          envFrom:
            - configMapRef:
                name: web-config
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: web-config
data:
  LOG_LEVEL: info
---
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  ports:
    - port: 80
`

// newProject writes a project with a base layer and a prod overlay and
// returns its root.
func newProject(t *testing.T, config string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "rigger.yaml"), config)
	writeFile(t, filepath.Join(root, "layers", "base", "layer.yaml"), "resources: [app.yaml]\n")
	writeFile(t, filepath.Join(root, "layers", "base", "app.yaml"), appYAML)
	writeFile(t, filepath.Join(root, "layers", "prod", "layer.yaml"), `bases: [base]
patches:
  - target: {kind: Deployment, name: web}
    ops:
      - {op: replace, path: /spec/replicas, value: 3}
`)
	return root
}

const projectConfig = `layers: layers
layer: prod
verify:
  timeout: 1s
  interval: 10ms
`

// fakeCluster accepts every document except those named in reject.
type fakeCluster struct {
	reject  map[string]bool
	applied []manifest.ID
}

var _ pipeline.Cluster = (*fakeCluster)(nil)

func (c *fakeCluster) Ping(context.Context) error { return nil }

func (c *fakeCluster) Apply(_ context.Context, doc *manifest.Document) error {
	if c.reject[doc.Name()] {
		return &rejection{doc.ID()}
	}
	c.applied = append(c.applied, doc.ID())
	return nil
}

func (c *fakeCluster) Status(context.Context, manifest.ID) (pipeline.WorkloadStatus, error) {
	return pipeline.WorkloadStatus{Desired: 1, Ready: 1, Updated: 1}, nil
}

type rejection struct{ id manifest.ID }

func (r *rejection) Error() string { return "admission webhook denied " + r.id.String() }

// useCluster routes deploys to c for the rest of the test.
func useCluster(t *testing.T, c pipeline.Cluster) {
	t.Helper()
	orig := connectCluster
	t.Cleanup(func() { connectCluster = orig })
	connectCluster = func(string, string) (pipeline.Cluster, error) { return c, nil }
}
