package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/convert"
	"github.com/candlekeep/candlekeep/internal/embed"
	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/logging"
	"github.com/candlekeep/candlekeep/internal/pipeline"
	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/queue"
	"github.com/candlekeep/candlekeep/internal/store"
)

// app is the dependency graph one command assembles before running. Only
// cfg and logger are always present; commands open what they need and the
// capability checks cover exactly what was opened.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.PostgresStore
	embedder embed.Embedder
	queue    *queue.Queue
	drive    *fetch.DriveFetcher
	pipeline *pipeline.Pipeline
	closers  []func()
}

// newApp loads configuration and sets up logging. Everything else is
// opened on demand.
func newApp() (*app, error) {
	path := cfgPath
	if path == "" {
		path = "candlekeep.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, cleanup)
	return a, nil
}

// close releases opened resources in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openStore(ctx context.Context) error {
	st, err := store.NewPostgresStore(ctx, a.cfg.Store, a.cfg.Embeddings.Dimensions, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

func (a *app) openEmbedder() error {
	e, err := embed.New(a.cfg.Embeddings, a.logger)
	if err != nil {
		return err
	}
	a.embedder = e
	a.closers = append(a.closers, func() { _ = e.Close() })
	return nil
}

func (a *app) openQueue() error {
	q, err := queue.New(queue.Options{
		URL:               a.cfg.Queue.URL,
		Name:              a.cfg.Queue.Name,
		DepthCeiling:      a.cfg.Queue.DepthCeiling,
		VisibilityTimeout: a.cfg.Queue.VisibilityTimeout,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}
	a.queue = q
	a.closers = append(a.closers, func() { _ = q.Close() })
	return nil
}

// buildPipeline wires fetch, convert, embed, and store into the ingestion
// pipeline. A misconfigured Drive credential is a warning here; the
// capability check reports it properly when Drive is actually needed.
func (a *app) buildPipeline(ctx context.Context) error {
	web := fetch.NewWebFetcher(a.cfg.Ingest.BrowserEnabled, a.logger)

	if a.cfg.Ingest.DriveCredentialsFile != "" {
		drive, err := fetch.NewDriveFetcher(ctx, a.cfg.Ingest.DriveCredentialsFile)
		if err != nil {
			a.logger.Warn("drive fetcher unavailable", slog.String("error", err.Error()))
		} else {
			a.drive = drive
		}
	}

	fetcher := fetch.New(fetch.Options{Web: web, Drive: a.drive, Logger: a.logger})

	var transcriber convert.Transcriber
	if a.cfg.Ingest.TranscriberURL != "" {
		transcriber = convert.NewWhisperClient(a.cfg.Ingest.TranscriberURL)
	}
	converter := convert.New(transcriber, a.logger)

	a.pipeline = pipeline.New(fetcher, converter, a.embedder, a.store, a.cfg.Ingest, a.logger)
	return nil
}

// checker registers a probe for every capability the assembled graph can
// answer for.
func (a *app) checker() *preflight.Checker {
	c := preflight.NewChecker()

	if a.store != nil {
		c.Register(preflight.CapStoreConnect, preflight.StoreConnectProbe(a.store))
		c.Register(preflight.CapStoreSchema, preflight.StoreSchemaProbe(a.store))
	}
	if a.embedder != nil {
		c.Register(preflight.CapEmbedder, preflight.EmbedderProbe(a.embedder))
	}
	if a.queue != nil {
		c.Register(preflight.CapQueue, preflight.QueueProbe(a.queue))
		c.Register(preflight.CapQueueWorkers, preflight.QueueWorkersProbe(a.queue))
	}
	if a.cfg.Ingest.BrowserEnabled {
		c.Register(preflight.CapBrowser, preflight.BrowserProbe())
	}
	if a.cfg.Ingest.DriveCredentialsFile != "" {
		var drive preflight.Pinger
		if a.drive != nil {
			drive = a.drive
		}
		c.Register(preflight.CapDriveCreds,
			preflight.DriveCredentialsProbe(a.cfg.Ingest.DriveCredentialsFile, drive))
	}
	if a.cfg.Ingest.TranscriberURL != "" {
		c.Register(preflight.CapAudioToolchain, preflight.HTTPProbe(
			preflight.CapAudioToolchain, a.cfg.Ingest.TranscriberURL,
			"start whisper-server or unset ingest.transcriber_url", false))
	}
	if a.cfg.Readings.MetasearchURL != "" {
		c.Register(preflight.CapMetasearch, preflight.HTTPProbe(
			preflight.CapMetasearch, a.cfg.Readings.MetasearchURL,
			"start the metasearch service or unset readings.metasearch_url", false))
	}
	if a.cfg.Readings.LLMBaseURL != "" {
		c.Register(preflight.CapReasoningLLM, preflight.HTTPProbe(
			preflight.CapReasoningLLM, a.cfg.Readings.LLMBaseURL,
			"check readings.llm_base_url", false))
	}

	return c
}

// coreCaps are required by every entry point that touches the corpus.
func (a *app) coreCaps() []preflight.Capability {
	return []preflight.Capability{
		preflight.CapStoreConnect,
		preflight.CapStoreSchema,
		preflight.CapEmbedder,
	}
}

// ingestionCaps lists the configured optional ingestion capabilities.
func (a *app) ingestionCaps() []preflight.Capability {
	var caps []preflight.Capability
	if a.cfg.Ingest.BrowserEnabled {
		caps = append(caps, preflight.CapBrowser)
	}
	if a.cfg.Ingest.DriveCredentialsFile != "" {
		caps = append(caps, preflight.CapDriveCreds)
	}
	if a.cfg.Ingest.TranscriberURL != "" {
		caps = append(caps, preflight.CapAudioToolchain)
	}
	return caps
}

// readingsCaps lists the configured optional enrichment capabilities.
func (a *app) readingsCaps() []preflight.Capability {
	var caps []preflight.Capability
	if a.cfg.Readings.MetasearchURL != "" {
		caps = append(caps, preflight.CapMetasearch)
	}
	if a.cfg.Readings.LLMBaseURL != "" {
		caps = append(caps, preflight.CapReasoningLLM)
	}
	return caps
}

// validate runs the capability checks and reduces the outcome to go or
// no-go. Degraded optional capabilities are logged and tolerated; required
// failures abort the command.
func (a *app) validate(ctx context.Context, caps []preflight.Capability, mode preflight.Mode) error {
	_, err := a.checker().Validate(ctx, caps, mode)
	if err != nil {
		if kberr.KindOf(err) == kberr.KindDependencyDegraded {
			a.logger.Warn("running degraded", slog.String("reason", err.Error()))
			return nil
		}
		return err
	}
	return nil
}

// renderError formats an error for the terminal, appending remediation
// when the error carries one.
func renderError(err error) string {
	var ke *kberr.Error
	if errors.As(err, &ke) && ke.Suggestion != "" {
		return ke.Message + "\n" + ke.Suggestion
	}
	return err.Error()
}

// printReport writes an ingestion report in a line-per-fact format.
func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "documents ingested:  %d\n", r.DocumentsIngested)
	fmt.Fprintf(w, "documents unchanged: %d\n", r.DocumentsUnchanged)
	fmt.Fprintf(w, "chunks ingested:     %d\n", r.ChunksIngested)
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning [%s] %s: %s\n", warn.Step, warn.Locator, warn.Message)
	}
}
