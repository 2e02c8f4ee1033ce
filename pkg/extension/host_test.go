package extension

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
)

// emptyModule is the smallest valid wasm binary: magic and version,
// no sections. It compiles and instantiates but exports nothing.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModule(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func newTestHost(t *testing.T, dir string) *Host {
	t.Helper()
	h, err := NewHost(context.Background(), HostConfig{Dir: dir}, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestNewHost_LoadsModules(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "probe.wasm", emptyModule)
	writeModule(t, dir, "bias-check.wasm", emptyModule)
	writeModule(t, dir, "notes.txt", []byte("ignored"))

	h := newTestHost(t, dir)
	assert.Equal(t, []string{"bias-check", "probe"}, h.Modules())
}

func TestNewHost_EmptyDirMeansNoExtensions(t *testing.T) {
	h := newTestHost(t, "")
	assert.Empty(t, h.Modules())

	_, ok := h.Resolve("ext:anything")
	assert.False(t, ok)
}

func TestNewHost_MissingDir(t *testing.T) {
	_, err := NewHost(context.Background(),
		HostConfig{Dir: filepath.Join(t.TempDir(), "no-such-dir")},
		WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read module dir")
}

func TestNewHost_RejectsBrokenModule(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "broken.wasm", []byte("not wasm at all"))

	_, err := NewHost(context.Background(), HostConfig{Dir: dir}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.wasm")
}

func TestResolve_TagContract(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "probe.wasm", emptyModule)
	h := newTestHost(t, dir)

	_, ok := h.Resolve("ext:probe")
	assert.True(t, ok)

	_, ok = h.Resolve("probe")
	assert.False(t, ok, "tags without the ext prefix belong to the builtin registry")

	_, ok = h.Resolve("ext:unknown")
	assert.False(t, ok)
}

func TestInvoke_UnknownModule(t *testing.T) {
	h := newTestHost(t, "")

	_, err := h.Invoke(context.Background(), "ghost", nil, compliance.Context{}, nil)
	require.ErrorIs(t, err, ErrModuleNotFound)
}

func TestInvoke_ModuleWithoutOutputFails(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "probe.wasm", emptyModule)
	h := newTestHost(t, dir)

	// The empty module runs but writes nothing, which is a validator
	// contract violation.
	_, err := h.Invoke(context.Background(), "probe", nil, compliance.Context{
		Environment: "production",
	}, map[string]string{"threshold": "0.8"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, err.Error(), "probe")
}

func TestDecodeStageResult(t *testing.T) {
	result, err := decodeStageResult("probe", []byte(`{
		"score": 0.85,
		"findings": [{
			"id": "stale-model-card",
			"severity": "medium",
			"category": "transparency",
			"description": "Model card is older than 180 days"
		}],
		"recommendations": ["Refresh the model card"]
	}`))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, result.Score, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "stale-model-card", result.Findings[0].ID)
	assert.Equal(t, compliance.SeverityMedium, result.Findings[0].Severity)
	assert.Equal(t, []string{"Refresh the model card"}, result.Recommendations)
}

func TestDecodeStageResult_Invalid(t *testing.T) {
	_, err := decodeStageResult("probe", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")

	_, err = decodeStageResult("probe", []byte("  \n "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")

	_, err = decodeStageResult("probe", []byte("PASS"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestHostError_Format(t *testing.T) {
	err := &HostError{Code: ErrCodeTimeout, Message: "module probe exceeded time limit (5s)"}
	assert.Equal(t, "ERR_EXTENSION_TIMEOUT: module probe exceeded time limit (5s)", err.Error())

	var hostErr *HostError
	assert.True(t, errors.As(error(err), &hostErr))
}

func TestHostConfig_Defaults(t *testing.T) {
	h := newTestHost(t, "")
	assert.Equal(t, int64(defaultMemoryLimitBytes), h.cfg.MemoryLimitBytes)
	assert.Equal(t, defaultInvokeTimeout, h.cfg.InvokeTimeout)

	custom, err := NewHost(context.Background(), HostConfig{
		MemoryLimitBytes: 8 * 1024 * 1024,
		InvokeTimeout:    250 * time.Millisecond,
	}, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer func() { _ = custom.Close(context.Background()) }()
	assert.Equal(t, int64(8*1024*1024), custom.cfg.MemoryLimitBytes)
	assert.Equal(t, 250*time.Millisecond, custom.cfg.InvokeTimeout)
}

func TestClose_Idempotent(t *testing.T) {
	h, err := NewHost(context.Background(), HostConfig{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))
}
