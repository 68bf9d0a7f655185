package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// Pinger covers the store and the queue: one connectivity round-trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaChecker is the store's schema verification.
type SchemaChecker interface {
	CheckSchema(ctx context.Context) error
}

// AvailabilityChecker covers the embedder.
type AvailabilityChecker interface {
	Available(ctx context.Context) bool
	ModelName() string
}

// WorkerCounter reports live workers on the queue.
type WorkerCounter interface {
	WorkerCount(ctx context.Context) (int, error)
}

// probeTimeout bounds each individual probe regardless of caller deadline.
const probeTimeout = 10 * time.Second

// StoreConnectProbe verifies document store connectivity.
func StoreConnectProbe(store Pinger) Probe {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			return failResult(CapStoreConnect, "cannot connect to the document store", err)
		}
		return passResult(CapStoreConnect, "document store reachable")
	}
}

// StoreSchemaProbe verifies the relations and operator-created indexes.
func StoreSchemaProbe(store SchemaChecker) Probe {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if err := store.CheckSchema(ctx); err != nil {
			return failResult(CapStoreSchema, "store schema incomplete", err)
		}
		return passResult(CapStoreSchema, "tables and indexes present")
	}
}

// EmbedderProbe verifies the embedding provider is reachable and the model
// is present.
func EmbedderProbe(embedder AvailabilityChecker) Probe {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if !embedder.Available(ctx) {
			return CheckResult{
				Name:     string(CapEmbedder),
				Status:   StatusFail,
				Message:  fmt.Sprintf("embedding model %s is not available", embedder.ModelName()),
				Details:  "check the embeddings provider endpoint and model name",
				Required: true,
			}
		}
		return passResult(CapEmbedder, "model "+embedder.ModelName()+" available")
	}
}

// QueueProbe verifies queue backend connectivity.
func QueueProbe(q Pinger) Probe {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if err := q.Ping(ctx); err != nil {
			return failResult(CapQueue, "cannot connect to the job queue", err)
		}
		return passResult(CapQueue, "queue backend reachable")
	}
}

// QueueWorkersProbe warns when no worker holds a live heartbeat. Enqueued
// jobs would sit until one starts, so this is advisory rather than fatal.
func QueueWorkersProbe(q WorkerCounter) Probe {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		n, err := q.WorkerCount(ctx)
		if err != nil {
			return CheckResult{
				Name:    string(CapQueueWorkers),
				Status:  StatusFail,
				Message: "cannot count workers",
				Details: err.Error(),
			}
		}
		if n == 0 {
			return CheckResult{
				Name:    string(CapQueueWorkers),
				Status:  StatusWarn,
				Message: "no workers are running; queued jobs will wait",
				Details: "start one with: candlekeep worker",
			}
		}
		return passResult(CapQueueWorkers, fmt.Sprintf("%d worker(s) running", n))
	}
}

// browserBinaries are the executables accepted as a headless browser
// runtime, in preference order.
var browserBinaries = []string{"google-chrome", "chromium", "chromium-browser", "chrome"}

// BrowserProbe checks that a headless browser binary is on PATH.
func BrowserProbe() Probe {
	return func(_ context.Context) CheckResult {
		for _, bin := range browserBinaries {
			if path, err := exec.LookPath(bin); err == nil {
				return passResult(CapBrowser, "found "+path)
			}
		}
		return CheckResult{
			Name:     string(CapBrowser),
			Status:   StatusFail,
			Message:  "no headless browser binary found on PATH",
			Details:  "install chromium or disable ingest.browser_enabled",
			Required: true,
		}
	}
}

// DriveCredentialsProbe verifies the service account file exists and the
// Drive API accepts it.
func DriveCredentialsProbe(credentialsFile string, drive Pinger) Probe {
	return func(ctx context.Context) CheckResult {
		if credentialsFile == "" {
			return CheckResult{
				Name:     string(CapDriveCreds),
				Status:   StatusFail,
				Message:  "no drive credentials configured",
				Details:  "set ingest.drive_credentials_file",
				Required: true,
			}
		}
		if _, err := os.Stat(credentialsFile); err != nil {
			return failResult(CapDriveCreds, "credentials file unreadable", err)
		}
		if drive != nil {
			ctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			if err := drive.Ping(ctx); err != nil {
				return failResult(CapDriveCreds, "drive API rejected the credentials", err)
			}
		}
		return passResult(CapDriveCreds, "service account accepted")
	}
}

// HTTPProbe checks that a base URL answers. Used for the transcriber, the
// metasearch endpoint, and the reasoning LLM, which only need liveness.
func HTTPProbe(cap Capability, baseURL, remediation string, required bool) Probe {
	return func(ctx context.Context) CheckResult {
		if baseURL == "" {
			return CheckResult{
				Name:     string(cap),
				Status:   StatusFail,
				Message:  "no endpoint configured",
				Details:  remediation,
				Required: required,
			}
		}

		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/", nil)
		if err != nil {
			return failResult(cap, "invalid endpoint URL", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return CheckResult{
				Name:     string(cap),
				Status:   StatusFail,
				Message:  "endpoint unreachable: " + baseURL,
				Details:  remediation,
				Required: required,
			}
		}
		_ = resp.Body.Close()

		// Any HTTP answer proves the service is up; auth and routing
		// problems surface on first real use.
		return passResult(cap, "endpoint answered: "+baseURL)
	}
}

func passResult(cap Capability, message string) CheckResult {
	return CheckResult{
		Name:     string(cap),
		Status:   StatusPass,
		Message:  message,
		Required: true,
	}
}

func failResult(cap Capability, message string, err error) CheckResult {
	details := err.Error()
	var ke *kberr.Error
	if errors.As(err, &ke) && ke.Suggestion != "" {
		details = ke.Suggestion
	}
	return CheckResult{
		Name:     string(cap),
		Status:   StatusFail,
		Message:  message,
		Details:  details,
		Required: true,
	}
}
