// Package extension runs third-party requirement validators compiled
// to WebAssembly. Modules execute in a wazero sandbox with no
// filesystem, no network, and no environment access; they read one
// JSON invocation from stdin and write one stage result JSON to
// stdout.
//
// The Host satisfies the validator resolver contract for tags of the
// form "ext:<module>", where <module> is the file name under the
// extension directory without the .wasm suffix.
package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// TagPrefix marks validator tags served by the extension host.
const TagPrefix = "ext:"

// OutputMaxBytes caps stdout+stderr of one module invocation.
const OutputMaxBytes = 1024 * 1024 // 1MB

// ErrModuleNotFound is returned when no loaded module matches the name.
var ErrModuleNotFound = errors.New("extension: module not found")

// Deterministic error codes for sandbox limit violations.
const (
	ErrCodeTimeout = "ERR_EXTENSION_TIMEOUT"
	ErrCodeMemory  = "ERR_EXTENSION_MEMORY"
	ErrCodeOutput  = "ERR_EXTENSION_OUTPUT"
	ErrCodeExit    = "ERR_EXTENSION_EXIT"
)

// HostError is a typed error for extension limit violations.
type HostError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HostConfig configures the sandbox restrictions.
type HostConfig struct {
	// Dir holds the *.wasm modules. Empty means no extensions.
	Dir string
	// MemoryLimitBytes caps each module's linear memory. Zero applies
	// the 64MB default.
	MemoryLimitBytes int64
	// InvokeTimeout bounds one invocation. Zero applies the 5s default.
	InvokeTimeout time.Duration
}

const (
	defaultMemoryLimitBytes = 64 * 1024 * 1024
	defaultInvokeTimeout    = 5 * time.Second
)

// Host loads WASM validator modules and runs them on demand.
type Host struct {
	runtime wazero.Runtime
	modules map[string]wazero.CompiledModule
	cfg     HostConfig
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithLogger overrides the host's logger.
func WithLogger(logger *slog.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// NewHost compiles every *.wasm file under cfg.Dir. A compile failure
// fails the whole load so a broken deployment is caught at startup
// rather than mid-validation.
func NewHost(ctx context.Context, cfg HostConfig, opts ...HostOption) (*Host, error) {
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = defaultMemoryLimitBytes
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = defaultInvokeTimeout
	}

	// wazero measures memory in 64KB pages.
	pages := uint32(cfg.MemoryLimitBytes / 65536)
	if pages == 0 {
		pages = 1
	}
	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(pages)
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// WASI with deny-by-default: no filesystem mounts, no network, no
	// environment variables.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("extension: instantiate WASI: %w", err)
	}

	h := &Host{
		runtime: r,
		modules: make(map[string]wazero.CompiledModule),
		cfg:     cfg,
		logger:  slog.Default().With("component", "extension-host"),
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Dir != "" {
		if err := h.loadDir(ctx, cfg.Dir); err != nil {
			_ = r.Close(ctx)
			return nil, err
		}
	}
	return h, nil
}

func (h *Host) loadDir(ctx context.Context, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("extension: read module dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".wasm") {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".wasm")
		raw, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return fmt.Errorf("extension: read module %s: %w", f.Name(), err)
		}
		compiled, err := h.runtime.CompileModule(ctx, raw)
		if err != nil {
			return fmt.Errorf("extension: compile module %s: %w", f.Name(), err)
		}
		h.modules[name] = compiled
		h.logger.Info("loaded extension module", "module", name, "size_bytes", len(raw))
	}
	return nil
}

// Modules lists the loaded module names, sorted.
func (h *Host) Modules() []string {
	names := make([]string, 0, len(h.modules))
	for name := range h.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve satisfies the compliance validator resolver contract for
// "ext:<module>" tags.
func (h *Host) Resolve(tag string) (compliance.ValidatorFunc, bool) {
	name, ok := strings.CutPrefix(tag, TagPrefix)
	if !ok {
		return nil, false
	}
	if _, ok := h.modules[name]; !ok {
		return nil, false
	}
	fn := func(ctx context.Context, a *manifest.Agent, c compliance.Context, params map[string]string) (compliance.StageResult, error) {
		return h.Invoke(ctx, name, a, c, params)
	}
	return fn, true
}

// invocation is the JSON a module reads from stdin.
type invocation struct {
	Agent   *manifest.Agent    `json:"agent"`
	Context compliance.Context `json:"context"`
	Params  map[string]string  `json:"params,omitempty"`
}

// Invoke runs one module against an agent. The module's stdout must
// carry a stage result JSON; scores outside [0,1] are clamped by the
// caller, not here.
func (h *Host) Invoke(ctx context.Context, module string, a *manifest.Agent, c compliance.Context, params map[string]string) (compliance.StageResult, error) {
	var zero compliance.StageResult

	compiled, ok := h.modules[module]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
	}

	input, err := json.Marshal(invocation{Agent: a, Context: c, Params: params})
	if err != nil {
		return zero, fmt.Errorf("extension: marshal invocation: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, h.cfg.InvokeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	// Unique instance names allow concurrent invocations of the same
	// module within one runtime.
	modCfg := wazero.NewModuleConfig().
		WithName(module + "-" + uuid.New().String()).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := h.runtime.InstantiateModule(execCtx, compiled, modCfg)
	if err != nil {
		// WASI programs exit via proc_exit; code 0 is a normal finish.
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() != 0 {
				return zero, &HostError{
					Code:    ErrCodeExit,
					Message: fmt.Sprintf("module %s exited with code %d: %s", module, exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
				}
			}
		} else {
			if execCtx.Err() != nil {
				return zero, &HostError{
					Code:    ErrCodeTimeout,
					Message: fmt.Sprintf("module %s exceeded time limit (%s)", module, h.cfg.InvokeTimeout),
				}
			}
			if isMemoryError(err) {
				return zero, &HostError{
					Code:    ErrCodeMemory,
					Message: fmt.Sprintf("module %s exceeded memory limit (%d bytes)", module, h.cfg.MemoryLimitBytes),
				}
			}
			return zero, fmt.Errorf("extension: run module %s: %w", module, err)
		}
	}
	if mod != nil {
		defer func() { _ = mod.Close(execCtx) }()
	}

	if total := stdout.Len() + stderr.Len(); total > OutputMaxBytes {
		return zero, &HostError{
			Code:    ErrCodeOutput,
			Message: fmt.Sprintf("module %s output %d bytes exceeds limit %d", module, total, OutputMaxBytes),
		}
	}

	return decodeStageResult(module, stdout.Bytes())
}

// decodeStageResult parses a module's stdout.
func decodeStageResult(module string, out []byte) (compliance.StageResult, error) {
	var zero compliance.StageResult
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return zero, fmt.Errorf("extension: module %s produced no output", module)
	}
	var result compliance.StageResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return zero, fmt.Errorf("extension: module %s produced invalid output: %w", module, err)
	}
	return result, nil
}

// Close releases the runtime and all compiled modules.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.runtime.Close(ctx)
}

// isMemoryError checks if the error is a memory limit violation.
func isMemoryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
