// Package escalation implements the escalation counters and the aggregated
// status reporter over the platform, organization, tenant, and site scope
// hierarchy, plus the reason-code severity registry they share.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ReasonCodeInfo describes one reason code in the registry file.
type ReasonCodeInfo struct {
	Code        string `yaml:"code" json:"code"`
	Severity    int    `yaml:"severity" json:"severity"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type registryFile struct {
	DefaultSeverity int              `yaml:"defaultSeverity"`
	ReasonCodes     []ReasonCodeInfo `yaml:"reasonCodes"`
}

// Registry resolves reason codes to severities from a YAML file and hot
// reloads it on change. A missing file yields an empty registry that
// answers everything with the default severity.
type Registry struct {
	path   string
	logger *slog.Logger

	mu              sync.RWMutex
	codes           map[string]ReasonCodeInfo
	defaultSeverity int
}

// NewRegistry loads the registry from path. An empty path or a missing file
// is not an error.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:            path,
		logger:          logger,
		codes:           map[string]ReasonCodeInfo{},
		defaultSeverity: MaxSeverity,
	}
	if path == "" {
		return r, nil
	}
	if err := r.Reload(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("reason code registry file not found, using defaults", "path", path)
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file and swaps the code table in place.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read reason code registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse reason code registry: %w", err)
	}

	codes := make(map[string]ReasonCodeInfo, len(file.ReasonCodes))
	for _, info := range file.ReasonCodes {
		if info.Code == "" {
			continue
		}
		if info.Severity < 0 || info.Severity > MaxSeverity {
			return fmt.Errorf("reason code %q: severity %d out of range 0..%d", info.Code, info.Severity, MaxSeverity)
		}
		codes[info.Code] = info
	}
	defaultSeverity := file.DefaultSeverity
	if defaultSeverity <= 0 || defaultSeverity > MaxSeverity {
		defaultSeverity = MaxSeverity
	}

	r.mu.Lock()
	r.codes = codes
	r.defaultSeverity = defaultSeverity
	r.mu.Unlock()

	r.logger.Info("reason code registry loaded", "path", r.path, "codes", len(codes))
	return nil
}

// Severity resolves a reason code to its severity, falling back to the
// registry default for unknown codes.
func (r *Registry) Severity(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.codes[code]; ok {
		return info.Severity
	}
	return r.defaultSeverity
}

// Lookup returns the full registry entry for a code.
func (r *Registry) Lookup(code string) (ReasonCodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.codes[code]
	return info, ok
}

// Codes returns every registered reason code, sorted by code.
func (r *Registry) Codes() []ReasonCodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReasonCodeInfo, 0, len(r.codes))
	for _, info := range r.codes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Watch reloads the registry whenever its file changes, until the context
// is canceled. The watch is on the directory: editors and config mounts
// replace files rather than writing them in place.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch registry directory: %w", err)
	}
	base := filepath.Base(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("reason code registry reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("registry watcher error", "error", err)
		}
	}
}
