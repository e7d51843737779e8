package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/pipeline/pipelinetest"
)

func execute(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func artifactArgs(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	paths := pipelinetest.WriteFiles(t, dir, true)
	return []string{
		"--dir", dir,
		"--pipeline", filepath.Base(paths.Pipeline),
		"--metadata", filepath.Base(paths.Metadata),
		"--features", filepath.Base(paths.Features),
	}
}

func TestValidate(t *testing.T) {
	out, err := execute(t, nil, append([]string{"validate"}, artifactArgs(t)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "3.0.0")
	assert.Contains(t, out, "412 / 104")
	assert.Contains(t, out, "OK")
}

func TestValidate_MissingArtifacts(t *testing.T) {
	_, err := execute(t, nil, "validate", "--dir", t.TempDir())
	assert.Error(t, err)
}

func TestPredict_Stdin(t *testing.T) {
	record := pipelinetest.Record()
	record.Glasgow = 10
	payload, err := json.Marshal(record)
	require.NoError(t, err)

	out, err := execute(t, payload, append([]string{"predict"}, artifactArgs(t)...)...)
	require.NoError(t, err)

	var result domain.PredictionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, domain.SeveritySevere, result.Prediction)
	assert.Equal(t, []string{"Glasgow alterado (10)"}, result.Factors)
}

func TestPredict_File(t *testing.T) {
	payload, err := json.Marshal(pipelinetest.Record())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	out, err := execute(t, nil, append([]string{"predict", "--record", path}, artifactArgs(t)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"prediccion": "Leve"`)
}

func TestPredict_InvalidRecord(t *testing.T) {
	record := pipelinetest.Record()
	record.Glasgow = 20
	payload, err := json.Marshal(record)
	require.NoError(t, err)

	_, err = execute(t, payload, append([]string{"predict"}, artifactArgs(t)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "glasgow")
}

func TestPredict_UnknownField(t *testing.T) {
	_, err := execute(t, []byte(`{"edad": 3}`), append([]string{"predict"}, artifactArgs(t)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding record")
}

func TestAuditRecent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dsn := filepath.Join(dir, "audit.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("audit:\n  driver: sqlite\n  dsn: "+dsn+"\n"), 0o644))

	out, err := execute(t, nil, "--config", cfgPath, "audit", "migrate-up")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1")

	out, err = execute(t, nil, "--config", cfgPath, "audit", "recent", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "ROUTE")
	assert.Contains(t, out, "0 of 0 entries")
}

func TestPrintEntries(t *testing.T) {
	var out bytes.Buffer
	entries := []domain.AccessEntry{{
		Timestamp: time.Now().Add(-time.Minute),
		Subject:   "user-1",
		Method:    "POST",
		Route:     "/api/predict",
		Status:    200,
		Outcome:   "success",
		LatencyMs: 12,
	}}
	require.NoError(t, printEntries(&out, entries, 1500))
	assert.Contains(t, out.String(), "/api/predict")
	assert.Contains(t, out.String(), "1 of 1,500 entries")
}

func TestJWKS_RequiresURL(t *testing.T) {
	_, err := execute(t, nil, "jwks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key set configured")
}
