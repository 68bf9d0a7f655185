// Package preflight validates external capabilities before an entry point
// starts real work. Every entry point declares the capability set it needs;
// the checker runs the corresponding probes in parallel, one round-trip
// each, and aggregates failures into a single actionable error.
package preflight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// Capability names one external dependency an entry point may require.
type Capability string

const (
	CapStoreConnect   Capability = "document_store_connect"
	CapStoreSchema    Capability = "document_store_schema"
	CapEmbedder       Capability = "embedder_reachable"
	CapQueue          Capability = "queue_reachable"
	CapQueueWorkers   Capability = "queue_workers_present"
	CapBrowser        Capability = "browser_runtime"
	CapDriveCreds     Capability = "drive_credentials"
	CapAudioToolchain Capability = "audio_toolchain"
	CapMetasearch     Capability = "web_metasearch"
	CapReasoningLLM   Capability = "reasoning_llm_reachable"
)

// CheckStatus is the outcome of one capability probe.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the display form of a status.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single capability probe.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Mode selects check strictness.
type Mode int

const (
	// Strict includes schema-level checks; any required failure is fatal.
	// Used by the server, the worker, and interactive query commands.
	Strict Mode = iota
	// Lenient verifies connectivity only; schema checks are skipped.
	// Used by direct ingestion entry points.
	Lenient
)

// Probe is one capability check. It performs at most one round-trip.
type Probe func(ctx context.Context) CheckResult

// Checker runs capability probes.
type Checker struct {
	probes map[Capability]Probe
	mu     sync.RWMutex
}

// NewChecker creates an empty checker; capabilities are registered against
// the concrete dependencies the entry point constructed.
func NewChecker() *Checker {
	return &Checker{probes: make(map[Capability]Probe)}
}

// Register binds a probe to a capability, replacing any previous binding.
func (c *Checker) Register(cap Capability, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[cap] = probe
}

// Run probes the given capabilities in parallel and returns all results,
// ordered by capability name for stable output. A capability with no
// registered probe fails as unconfigured.
func (c *Checker) Run(ctx context.Context, caps []Capability, mode Mode) []CheckResult {
	if mode == Lenient {
		caps = withoutSchemaChecks(caps)
	}

	results := make([]CheckResult, len(caps))
	g, gctx := errgroup.WithContext(ctx)

	for i, cap := range caps {
		c.mu.RLock()
		probe, ok := c.probes[cap]
		c.mu.RUnlock()

		if !ok {
			results[i] = CheckResult{
				Name:     string(cap),
				Status:   StatusFail,
				Message:  "no probe configured for this capability",
				Required: true,
			}
			continue
		}

		g.Go(func() error {
			results[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Validate runs the checks and converts failures into errors: required
// failures aggregate into one dependency_unavailable error with per-check
// remediation; only degraded warnings yield a dependency_degraded error the
// caller may log and ignore.
func (c *Checker) Validate(ctx context.Context, caps []Capability, mode Mode) ([]CheckResult, error) {
	results := c.Run(ctx, caps, mode)

	var critical, degraded []CheckResult
	for _, r := range results {
		switch {
		case r.IsCritical():
			critical = append(critical, r)
		case r.Status != StatusPass:
			degraded = append(degraded, r)
		}
	}

	if len(critical) > 0 {
		var lines []string
		for _, r := range critical {
			line := fmt.Sprintf("%s: %s", r.Name, r.Message)
			if r.Details != "" {
				line += " (" + r.Details + ")"
			}
			lines = append(lines, line)
		}
		err := kberr.Newf(kberr.CodeDependencyUnavailable,
			"%d required capability check(s) failed", len(critical)).
			WithSuggestion(strings.Join(lines, "\n"))
		for _, r := range critical {
			err = err.WithDetail(r.Name, r.Message)
		}
		return results, err
	}

	if len(degraded) > 0 {
		var names []string
		for _, r := range degraded {
			names = append(names, r.Name)
		}
		return results, kberr.Newf(kberr.CodeDependencyDegraded,
			"degraded capabilities: %s", strings.Join(names, ", "))
	}

	return results, nil
}

// Gate returns a validation function suitable for worker startup: it runs
// the capability set in the given mode and returns only fatal errors,
// logging nothing itself.
func (c *Checker) Gate(caps []Capability, mode Mode) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := c.Validate(ctx, caps, mode)
		if err != nil && kberr.KindOf(err) == kberr.KindDependencyDegraded {
			return nil
		}
		return err
	}
}

func withoutSchemaChecks(caps []Capability) []Capability {
	out := make([]Capability, 0, len(caps))
	for _, cap := range caps {
		if cap == CapStoreSchema {
			continue
		}
		out = append(out, cap)
	}
	return out
}
