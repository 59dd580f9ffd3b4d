// Package executor drives one provisioning run end to end.
//
// A run reads the input directory, writes every ingestion reject to the
// rejected log, and then walks the entity kinds in a fixed order:
//
//	locations -> users -> workspaces -> devices -> complete
//
// Rows are attempted one at a time in row id order. Each user or workspace is
// upserted by looking it up by natural key first, so re-running over rows that
// already succeeded updates them instead of creating duplicates. A failed row
// is classified and written to the pending log; it never stops the run.
//
// The checkpoint is advisory. It is advanced after each success and its
// resume point is logged, but rows are never skipped because of it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/provisioner/internal/checkpoint"
	"github.com/JonMunkholm/provisioner/internal/ingest"
	"github.com/JonMunkholm/provisioner/internal/logging"
	"github.com/JonMunkholm/provisioner/internal/output"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// PipelineVersion is stamped into every checkpoint. A checkpoint written by a
// different version is ignored.
const PipelineVersion = "1"

// CheckpointFile is the checkpoint name inside the output directory.
const CheckpointFile = "checkpoint.json"

// Config holds the run settings the executor needs.
type Config struct {
	InputDir              string
	OutputDir             string
	BatchSize             int
	MaxRows               int
	WriteSafeCompensation bool
}

// Status is the outcome of a run as a whole.
type Status string

const (
	StatusRunning     Status = "running"
	StatusComplete    Status = "complete"
	StatusInterrupted Status = "interrupted"
)

// Counts tallies row outcomes for one entity kind.
type Counts struct {
	Created  int
	Updated  int
	Pending  int
	Rejected int
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		Created:  c.Created + o.Created,
		Updated:  c.Updated + o.Updated,
		Pending:  c.Pending + o.Pending,
		Rejected: c.Rejected + o.Rejected,
	}
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID           string
	PipelineVersion string
	InputHash       string
	Status          Status
	Resumed         bool
	StartedAt       time.Time
	FinishedAt      time.Time

	Locations  Counts
	Users      Counts
	Workspaces Counts
	Devices    Counts
}

// Totals sums the per-kind counts.
func (s Summary) Totals() Counts {
	return s.Locations.add(s.Users).add(s.Workspaces).add(s.Devices)
}

// Recorder persists run summaries outside the output directory.
// Recording is best effort: failures are logged and the run carries on.
type Recorder interface {
	RecordStart(ctx context.Context, s Summary) error
	RecordFinish(ctx context.Context, s Summary) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the base logger. Every entry also carries the run ID.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for checkpoints, logs and the summary.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRecorder attaches a run history recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithRunID fixes the run ID instead of generating a UUID.
func WithRunID(id string) Option {
	return func(e *Executor) { e.runID = id }
}

// Executor runs the pipeline against a provisioning API.
type Executor struct {
	cfg      Config
	api      provisioning.API
	logger   *slog.Logger
	now      func() time.Time
	recorder Recorder
	runID    string
}

// New creates an executor. Nothing is read or written until Run.
func New(cfg Config, api provisioning.API, opts ...Option) *Executor {
	e := &Executor{
		cfg:    cfg,
		api:    api,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one pipeline invocation.
//
// Only ingestion failures (missing files, header mismatch, bad site bundle),
// output I/O failures and cancellation of ctx are returned as errors. Row
// failures are recorded in the pending log and counted in the summary.
func (e *Executor) Run(ctx context.Context) (summary Summary, err error) {
	in, err := ingest.Build(e.cfg.InputDir)
	if err != nil {
		return Summary{}, fmt.Errorf("build input: %w", err)
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create output dir: %w", err)
	}

	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.Enrich(ctx, e.logger)

	writers, err := output.Open(e.cfg.OutputDir, runID)
	if err != nil {
		return Summary{}, fmt.Errorf("open output logs: %w", err)
	}
	writers.SetClock(e.now)
	defer func() {
		if cerr := writers.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close output logs: %w", cerr))
		}
	}()

	r := &run{
		cfg:     e.cfg,
		api:     e.api,
		logger:  logger,
		now:     e.now,
		writers: writers,
		store:   checkpoint.NewStore(filepath.Join(e.cfg.OutputDir, CheckpointFile)),
		input:   in,
		cache:   NewLocationCache(e.api, in.Site),
		summary: &Summary{
			RunID:           runID,
			PipelineVersion: PipelineVersion,
			InputHash:       in.InputHash,
			Status:          StatusRunning,
			StartedAt:       e.now().UTC(),
		},
	}

	if err := r.writeRejected(); err != nil {
		return *r.summary, err
	}

	r.resume()

	logger.Info("run started",
		"input_dir", e.cfg.InputDir,
		"output_dir", e.cfg.OutputDir,
		"users", len(in.Users),
		"workspaces", len(in.Workspaces),
		"devices", len(in.Devices),
		"rejected", len(in.Rejected),
		"resumed", r.summary.Resumed,
		"write_safe_compensation", e.cfg.WriteSafeCompensation,
	)
	e.record(ctx, logger, "start", *r.summary)

	runErr := r.execute(ctx)

	r.summary.FinishedAt = e.now().UTC()
	if runErr != nil {
		r.summary.Status = StatusInterrupted
	} else {
		r.summary.Status = StatusComplete
	}
	// The run may have been cancelled; history still gets the final state.
	e.record(context.WithoutCancel(ctx), logger, "finish", *r.summary)

	totals := r.summary.Totals()
	logger.Info("run finished",
		"status", r.summary.Status,
		"created", totals.Created,
		"updated", totals.Updated,
		"pending", totals.Pending,
		"rejected", totals.Rejected,
		"duration", r.summary.FinishedAt.Sub(r.summary.StartedAt),
	)

	return *r.summary, runErr
}

func (e *Executor) record(ctx context.Context, logger *slog.Logger, stage string, s Summary) {
	if e.recorder == nil {
		return
	}
	var err error
	if stage == "start" {
		err = e.recorder.RecordStart(ctx, s)
	} else {
		err = e.recorder.RecordFinish(ctx, s)
	}
	if err != nil {
		logger.Warn("failed to record run history", "stage", stage, "error", err)
	}
}
