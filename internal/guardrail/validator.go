// Package guardrail implements the Guardrail Validator (C7): a pure
// content-policy check over candidate markup, backed by a YAML policy
// document that hot-reloads on change via fsnotify, the pattern the
// teacher's config watchers use for on-disk policy files.
package guardrail

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/tanujdargan/html.ai/internal/htmlguard"
)

// Verdict is the guardrail's decision on one candidate.
type Verdict struct {
	Approved bool
	Reason   string
}

// Validator holds the compiled policy and, when backed by a file,
// watches it for changes.
type Validator struct {
	mu      sync.RWMutex
	policy  compiledPolicy
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	closed  atomic.Bool
}

// New builds a Validator. An empty path uses the built-in default
// policy with no filesystem watch. A non-empty path is loaded
// immediately and then watched for writes; a reload failure logs and
// keeps serving the previously compiled policy.
func New(path string, fallbackMaxBytes int, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{logger: logger}

	raw := []byte(defaultPolicyYAML)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("guardrail: read policy file: %w", err)
		}
		raw = data
	}

	compiled, err := compilePolicy(raw, fallbackMaxBytes)
	if err != nil {
		return nil, err
	}
	v.policy = compiled
	// The built-in policy takes its size bound from the caller.
	if path == "" && fallbackMaxBytes > 0 {
		v.policy.maxHTMLBytes = fallbackMaxBytes
	}

	if path == "" {
		return v, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("guardrail: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("guardrail: watch policy file: %w", err)
	}
	v.watcher = watcher
	go v.watchLoop(path, fallbackMaxBytes)
	return v, nil
}

func (v *Validator) watchLoop(path string, fallbackMaxBytes int) {
	for {
		select {
		case event, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				v.logger.Warn("guardrail: policy reload read failed", "error", err, "path", path)
				continue
			}
			compiled, err := compilePolicy(data, fallbackMaxBytes)
			if err != nil {
				v.logger.Warn("guardrail: policy reload compile failed, keeping previous policy", "error", err, "path", path)
				continue
			}
			v.mu.Lock()
			v.policy = compiled
			v.mu.Unlock()
			v.logger.Info("guardrail: policy reloaded", "path", path)
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			v.logger.Warn("guardrail: policy watcher error", "error", err)
		}
	}
}

// Close stops the filesystem watch, if any.
func (v *Validator) Close() error {
	if v.closed.Swap(true) {
		return nil
	}
	if v.watcher != nil {
		return v.watcher.Close()
	}
	return nil
}

// Validate checks candidateHTML per spec.md §4.7: size bound, no
// script/event-handler content, every entry of requiredMarkers still
// present with its original value, and no flagged phrase.
func (v *Validator) Validate(candidateHTML string, requiredMarkers map[string]string) Verdict {
	v.mu.RLock()
	policy := v.policy
	v.mu.RUnlock()

	if len(candidateHTML) > policy.maxHTMLBytes {
		return Verdict{Reason: fmt.Sprintf("html exceeds size bound of %d bytes", policy.maxHTMLBytes)}
	}

	nodes, err := htmlguard.Parse(candidateHTML)
	if err != nil {
		return Verdict{Reason: "html failed to parse"}
	}
	if violations := htmlguard.FindScriptViolations(nodes); len(violations) > 0 {
		return Verdict{Reason: violations[0].Reason}
	}

	markers := htmlguard.Markers(nodes)
	for name, val := range requiredMarkers {
		if markers[name] != val {
			return Verdict{Reason: fmt.Sprintf("missing or altered required marker %q", name)}
		}
	}

	for _, re := range policy.flagged {
		if re.MatchString(candidateHTML) {
			return Verdict{Reason: fmt.Sprintf("flagged phrase matched: %s", re.String())}
		}
	}

	return Verdict{Approved: true}
}
