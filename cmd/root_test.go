package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cloudchase/tfmeta/config"
	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/metadata"
	"github.com/cloudchase/tfmeta/tflite"
	"github.com/cloudchase/tfmeta/tflite/tflitetest"
)

// run executes the root command with args and returns stdout. Flags are reset
// afterwards because the commands are package-level.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { resetFlags(rootCmd) })

	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// workspace creates an emotion model and its label file in a temp dir and
// points the registry at another temp dir.
func workspace(t *testing.T) (modelPath, labelsPath, registryDir string) {
	t.Helper()
	dir := t.TempDir()
	modelPath = tflitetest.Write(t, dir, "second_model.tflite", tflitetest.Emotion())
	labelsPath = tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	registryDir = t.TempDir()
	return
}

func TestRootRegistersCommands(t *testing.T) {
	assert.Equal(t, "tfmeta", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	for _, want := range []string{"populate", "info", "list", "extract", "init", "serve", "remove"} {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == want {
				found = true
				break
			}
		}
		assert.True(t, found, "expected command %s to be registered", want)
	}
}

func TestPopulateAndInfo(t *testing.T) {
	model, labels, reg := workspace(t)

	out, err := run(t, "populate", model, "--labels", labels, "--registry-dir", reg,
		"--register", "--as", "emotion")
	require.NoError(t, err)
	assert.Contains(t, out, "Populated "+model)
	assert.Contains(t, out, "labels.txt")
	assert.Contains(t, out, "Registered as emotion")

	out, err = run(t, "info", "emotion", "--registry-dir", reg)
	require.NoError(t, err)
	assert.Contains(t, out, "Emotion Classification Model")
	assert.Contains(t, out, "image 150x150 RGB")
	assert.Contains(t, out, "labels.txt (TENSOR_AXIS_LABELS)")

	out, err = run(t, "info", model, "--json", "--registry-dir", reg)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	assert.Equal(t, metadata.MinParserVersion, meta["min_parser_version"])

	out, err = run(t, "list", "--registry-dir", reg)
	require.NoError(t, err)
	assert.Contains(t, out, "emotion")
	assert.Contains(t, out, "v1")

	_, err = run(t, "remove", "emotion", "--registry-dir", reg)
	require.NoError(t, err)
	out, err = run(t, "list", "--registry-dir", reg)
	require.NoError(t, err)
	assert.Contains(t, out, "No models registered")
}

func TestPopulate_OutputFlag(t *testing.T) {
	model, labels, reg := workspace(t)
	dest := filepath.Join(t.TempDir(), "with_metadata.tflite")

	_, err := run(t, "populate", model, "--labels", labels, "--registry-dir", reg, "-o", dest)
	require.NoError(t, err)

	m, err := tflite.Open(dest)
	require.NoError(t, err)
	_, ok := m.File("labels.txt")
	assert.True(t, ok)
}

func TestPopulate_ClassMismatch(t *testing.T) {
	model, labels, reg := workspace(t)
	before, err := os.ReadFile(model)
	require.NoError(t, err)

	_, err = run(t, "populate", model, "--labels", labels, "--classes", "5", "--registry-dir", reg)
	assert.ErrorIs(t, err, errdefs.ErrMalformedConfiguration)

	after, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPopulate_MissingModel(t *testing.T) {
	_, labels, reg := workspace(t)
	_, err := run(t, "populate", filepath.Join(t.TempDir(), "absent.tflite"), "--labels", labels, "--registry-dir", reg)
	assert.ErrorIs(t, err, errdefs.ErrMissingInputFile)
}

func TestExtract(t *testing.T) {
	model, labels, reg := workspace(t)
	_, err := run(t, "populate", model, "--labels", labels, "--registry-dir", reg)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	_, err = run(t, "extract", model, "--dir", dir, "--registry-dir", reg)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "labels.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "neutral")

	data, err = os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Emotion Classification Model")
}

func TestInit_Yes(t *testing.T) {
	_, _, reg := workspace(t)
	file := filepath.Join(t.TempDir(), "tfmeta.yaml")

	_, err := run(t, "init", "--yes", "--file", file, "--name", "Digits", "--classes", "10", "--registry-dir", reg)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "Digits", cfg.Model.Name)
	assert.Equal(t, 10, cfg.Output.Classes)
	assert.Equal(t, 150, cfg.Input.Width)

	loaded, err := config.Load(file, nil)
	require.NoError(t, err)
	assert.Equal(t, "Digits", loaded.Model.Name)

	_, err = run(t, "init", "--yes", "--file", file, "--registry-dir", reg)
	assert.Error(t, err, "existing file needs --force")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2*1024*1024))
}

func TestReportError(t *testing.T) {
	model, labels, reg := workspace(t)
	_, err := run(t, "populate", model, "--labels", labels, "--classes", "5", "--registry-dir", reg)
	require.True(t, errdefs.IsMalformedConfiguration(err))

	var buf bytes.Buffer
	reportError(&buf, err)
	assert.Contains(t, buf.String(), "Error: ")
	assert.Contains(t, buf.String(), "tfmeta init")

	buf.Reset()
	reportError(&buf, errdefs.ErrUnsupportedModel)
	assert.NotContains(t, buf.String(), "tfmeta init")
}
