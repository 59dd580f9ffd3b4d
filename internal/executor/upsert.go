package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/provisioner/internal/batch"
	"github.com/JonMunkholm/provisioner/internal/checkpoint"
	"github.com/JonMunkholm/provisioner/internal/output"
	"github.com/JonMunkholm/provisioner/internal/reason"
)

var (
	// ErrAmbiguousMatch means a lookup found zero or several candidates where
	// exactly one was needed.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// errInvalidRow marks a row value that passed ingestion but cannot be
	// turned into an API entity.
	errInvalidRow = errors.New("invalid row value")
)

const (
	statusCreated = "created"
	statusUpdated = "updated"
)

// upsertOps is the list/create/update triple of one entity kind.
type upsertOps[T any] struct {
	list   func(ctx context.Context, key string) ([]T, error)
	create func(ctx context.Context, entity T) (T, error)
	update func(ctx context.Context, id string, entity T) error
	id     func(T) string
}

type upsertResult struct {
	status   string
	remoteID string
}

// upsert looks the entity up by natural key before writing: no match creates,
// one match updates, more than one is ambiguous and nothing is written.
func upsert[T any](ctx context.Context, ops upsertOps[T], lookup string, entity T) (upsertResult, error) {
	existing, err := ops.list(ctx, lookup)
	if err != nil {
		return upsertResult{}, err
	}

	switch len(existing) {
	case 0:
		created, err := ops.create(ctx, entity)
		if err != nil {
			return upsertResult{}, err
		}
		id := ops.id(created)
		if id == "" {
			return upsertResult{}, fmt.Errorf("%w: create of %q returned no id", reason.ErrInvalidResponse, lookup)
		}
		return upsertResult{status: statusCreated, remoteID: id}, nil

	case 1:
		id := ops.id(existing[0])
		if id == "" {
			return upsertResult{}, fmt.Errorf("%w: lookup of %q returned an entry without id", reason.ErrInvalidResponse, lookup)
		}
		if err := ops.update(ctx, id, entity); err != nil {
			return upsertResult{}, err
		}
		return upsertResult{status: statusUpdated, remoteID: id}, nil

	default:
		return upsertResult{}, fmt.Errorf("%w: %d remote entries match %q", ErrAmbiguousMatch, len(existing), lookup)
	}
}

// entityPhase describes how one entity kind flows through a phase.
type entityPhase[R, T any] struct {
	phase      checkpoint.Phase
	entityType string
	step       string

	rowID  func(R) int
	key    func(R) string
	lookup func(R) string
	fields func(R) map[string]string

	// locationKey is nil for kinds that need no location.
	locationKey func(R) string

	build     func(row R, locationID string) (T, error)
	ops       upsertOps[T]
	onSuccess func(row R, remoteID string)
}

// runEntities processes rows batch by batch, strictly in order.
func runEntities[R, T any](ctx context.Context, r *run, rows []R, p entityPhase[R, T]) error {
	if err := r.enter(p.phase); err != nil {
		return err
	}

	maxBatches := batch.MaxBatchesFor(r.cfg.MaxRows, r.cfg.BatchSize)
	attempted := 0
	for b := range batch.Iter(rows, r.cfg.BatchSize, r.cfg.MaxRows, maxBatches) {
		r.logger.Debug("batch started", "phase", p.phase, "batch_id", b.ID, "rows", len(b.Items))
		for _, row := range b.Items {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			attempted++
			if err := processRow(ctx, r, p, b.ID, row); err != nil {
				return err
			}
		}
	}
	r.logCapped(p.phase, len(rows), attempted)
	return nil
}

// processRow attempts one row. Only log and checkpoint failures are returned;
// a row that cannot be provisioned ends up in the pending log.
func processRow[R, T any](ctx context.Context, r *run, p entityPhase[R, T], batchID int, row R) error {
	id := p.rowID(row)
	key := p.key(row)
	counts := r.counts(p.entityType)

	fail := func(step string, err error) error {
		counts.Pending++
		return r.pending(batchID, id, p.entityType, key, step, classify(err), p.fields(row))
	}

	var locationID string
	if p.locationKey != nil {
		var err error
		if locationID, err = r.cache.Resolve(ctx, p.locationKey(row)); err != nil {
			return fail(StepLocationResolve, err)
		}
	}

	entity, err := p.build(row, locationID)
	if err != nil {
		return fail(p.step, err)
	}

	res, err := upsert(ctx, p.ops, p.lookup(row), entity)
	if err != nil {
		return fail(p.step, err)
	}

	if res.status == statusCreated {
		counts.Created++
	} else {
		counts.Updated++
	}
	if p.onSuccess != nil {
		p.onSuccess(row, res.remoteID)
	}

	err = r.writers.WriteResult(output.Result{
		BatchID:    batchID,
		RowID:      id,
		EntityType: p.entityType,
		EntityKey:  key,
		Step:       p.step,
		Status:     res.status,
		RemoteID:   res.remoteID,
	})
	if err != nil {
		return fmt.Errorf("write results log: %w", err)
	}
	return r.advance(id)
}

// classify turns a row failure into its reason. Executor-level conditions are
// matched first; everything else came from the API call.
func classify(err error) reason.Info {
	switch {
	case errors.Is(err, ErrAmbiguousMatch):
		return reason.Info{
			Code:    reason.AmbiguousMatch,
			Class:   reason.ClassNonRetryable,
			Message: err.Error(),
		}
	case errors.Is(err, errInvalidRow):
		return reason.Input(reason.InvalidInputSchema, err.Error())
	default:
		return reason.MapError(err)
	}
}
