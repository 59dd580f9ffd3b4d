package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/provisioner/internal/batch"
	"github.com/JonMunkholm/provisioner/internal/checkpoint"
	"github.com/JonMunkholm/provisioner/internal/ingest"
	"github.com/JonMunkholm/provisioner/internal/output"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
	"github.com/JonMunkholm/provisioner/internal/reason"
)

// Entity types as written to the logs.
const (
	EntityLocation  = "location"
	EntityUser      = string(ingest.KindUser)
	EntityWorkspace = string(ingest.KindWorkspace)
	EntityDevice    = string(ingest.KindDevice)
)

// Step names recorded in results and pending rows.
const (
	StepLocationUpsert  = "location.upsert"
	StepLocationResolve = "location.resolve"
	StepUserUpsert      = "user.upsert"
	StepWorkspaceUpsert = "workspace.upsert"
	StepDeviceProvision = "device.provision"
)

// run is the state of one Run invocation. Nothing in it outlives the call.
type run struct {
	cfg     Config
	api     provisioning.API
	logger  *slog.Logger
	now     func() time.Time
	writers *output.Writers
	store   *checkpoint.Store
	input   *ingest.Result
	cache   *LocationCache
	summary *Summary

	phase checkpoint.Phase
	cp    checkpoint.Checkpoint
}

// writeRejected flushes ingestion rejects before any API call, so input
// defects are on disk even if the run dies early.
func (r *run) writeRejected() error {
	for _, rej := range r.input.Rejected {
		err := r.writers.WriteRejected(output.Rejected{
			RowID:      rej.RowID,
			EntityType: string(rej.Kind),
			EntityKey:  rej.EntityKey,
			Reason:     rej.Reason,
			Message:    rej.Message,
			Raw:        rej.Raw,
		})
		if err != nil {
			return fmt.Errorf("write rejected log: %w", err)
		}
		r.counts(string(rej.Kind)).Rejected++
	}
	return nil
}

// resume loads the previous checkpoint. A trusted one only carries its start
// time forward; every row is attempted again.
func (r *run) resume() {
	r.cp = checkpoint.Checkpoint{
		PipelineVersion: PipelineVersion,
		InputHash:       r.input.InputHash,
		StartedAt:       r.summary.StartedAt,
	}

	prev, err := r.store.Load()
	if err != nil {
		r.logger.Warn("ignoring unreadable checkpoint", "path", r.store.Path(), "error", err)
		return
	}
	if prev == nil {
		return
	}
	if !prev.Matches(PipelineVersion, r.input.InputHash) {
		r.logger.Info("ignoring checkpoint from different input",
			"checkpoint_version", prev.PipelineVersion,
			"checkpoint_phase", prev.Phase,
		)
		return
	}

	r.cp.StartedAt = prev.StartedAt
	r.summary.Resumed = true
	r.logger.Info("resuming from checkpoint",
		"phase", prev.Phase,
		"last_item_id", prev.LastItemID,
		"checkpoint_started_at", prev.StartedAt,
	)
}

func (r *run) execute(ctx context.Context) error {
	locations := make([]siteItem, len(r.input.Site.Locations))
	for i, loc := range r.input.Site.Locations {
		locations[i] = siteItem{id: i + 1, loc: loc}
	}

	site := r.input.Site

	if err := runEntities(ctx, r, locations, entityPhase[siteItem, provisioning.Location]{
		phase:      checkpoint.PhaseLocations,
		entityType: EntityLocation,
		step:       StepLocationUpsert,
		rowID:      func(s siteItem) int { return s.id },
		key:        func(s siteItem) string { return s.loc.Key },
		lookup:     func(s siteItem) string { return s.loc.Name },
		fields:     siteItem.fields,
		build: func(s siteItem, _ string) (provisioning.Location, error) {
			return buildLocation(s.loc), nil
		},
		ops: upsertOps[provisioning.Location]{
			list:   r.api.ListLocations,
			create: r.api.CreateLocation,
			update: r.api.UpdateLocation,
			id:     func(l provisioning.Location) string { return l.ID },
		},
		onSuccess: func(s siteItem, remoteID string) { r.cache.Put(s.loc.Key, remoteID) },
	}); err != nil {
		return err
	}

	if err := runEntities(ctx, r, r.input.Users, entityPhase[ingest.UserRow, provisioning.Person]{
		phase:       checkpoint.PhaseUsers,
		entityType:  EntityUser,
		step:        StepUserUpsert,
		rowID:       func(u ingest.UserRow) int { return u.RowID },
		key:         ingest.UserRow.EntityKey,
		lookup:      ingest.UserRow.EntityKey,
		locationKey: func(u ingest.UserRow) string { return u.LocationKey },
		fields:      ingest.UserRow.Fields,
		build: func(u ingest.UserRow, locationID string) (provisioning.Person, error) {
			return buildPerson(u, locationID, site)
		},
		ops: upsertOps[provisioning.Person]{
			list:   r.api.ListPeople,
			create: r.api.CreatePerson,
			update: r.api.UpdatePerson,
			id:     func(p provisioning.Person) string { return p.ID },
		},
	}); err != nil {
		return err
	}

	if err := runEntities(ctx, r, r.input.Workspaces, entityPhase[ingest.WorkspaceRow, provisioning.Workspace]{
		phase:       checkpoint.PhaseWorkspaces,
		entityType:  EntityWorkspace,
		step:        StepWorkspaceUpsert,
		rowID:       func(w ingest.WorkspaceRow) int { return w.RowID },
		key:         ingest.WorkspaceRow.EntityKey,
		lookup:      ingest.WorkspaceRow.EntityKey,
		locationKey: func(w ingest.WorkspaceRow) string { return w.LocationKey },
		fields:      ingest.WorkspaceRow.Fields,
		build: func(w ingest.WorkspaceRow, locationID string) (provisioning.Workspace, error) {
			return buildWorkspace(w, locationID, site)
		},
		ops: upsertOps[provisioning.Workspace]{
			list:   r.api.ListWorkspaces,
			create: r.api.CreateWorkspace,
			update: r.api.UpdateWorkspace,
			id:     func(w provisioning.Workspace) string { return w.ID },
		},
	}); err != nil {
		return err
	}

	if err := r.runDevices(ctx); err != nil {
		return err
	}

	return r.enter(checkpoint.PhaseComplete)
}

// runDevices records every device as out of scope. Nothing is sent to the API.
func (r *run) runDevices(ctx context.Context) error {
	if err := r.enter(checkpoint.PhaseDevices); err != nil {
		return err
	}

	info := reason.Info{
		Code:    reason.OutOfScope,
		Class:   reason.ClassNonRetryable,
		Message: "device provisioning is not automated",
	}

	devices := r.input.Devices
	maxBatches := batch.MaxBatchesFor(r.cfg.MaxRows, r.cfg.BatchSize)
	attempted := 0
	for b := range batch.Iter(devices, r.cfg.BatchSize, r.cfg.MaxRows, maxBatches) {
		for _, d := range b.Items {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			attempted++
			if err := r.pending(b.ID, d.RowID, EntityDevice, d.EntityKey(), StepDeviceProvision, info, d.Fields()); err != nil {
				return err
			}
			r.summary.Devices.Pending++
		}
	}
	r.logCapped(checkpoint.PhaseDevices, len(devices), attempted)
	return nil
}

// enter records a phase transition in the log and the checkpoint.
func (r *run) enter(phase checkpoint.Phase) error {
	from := r.phase
	if from == "" {
		from = "start"
	}
	r.phase = phase
	r.logger.Info("phase transition", "from", from, "to", phase)

	r.cp.Phase = phase
	r.cp.LastItemID = 0
	return r.saveCheckpoint()
}

// advance moves the checkpoint past a successful row.
func (r *run) advance(itemID int) error {
	r.cp.LastItemID = itemID
	return r.saveCheckpoint()
}

func (r *run) saveCheckpoint() error {
	r.cp.UpdatedAt = r.now().UTC()
	if err := r.store.Write(r.cp); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (r *run) pending(batchID, rowID int, entityType, key, step string, info reason.Info, payload map[string]string) error {
	r.logger.Warn("row not provisioned",
		"entity_type", entityType,
		"row_id", rowID,
		"entity_key", key,
		"step", step,
		"reason", info.Code,
		"retryable", info.Retryable(),
		"error", info.Message,
	)
	err := r.writers.WritePending(output.Pending{
		BatchID:    batchID,
		RowID:      rowID,
		EntityType: entityType,
		EntityKey:  key,
		Step:       step,
		Reason:     info,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("write pending log: %w", err)
	}
	return nil
}

// logCapped warns when max_rows left part of a kind unattempted.
func (r *run) logCapped(phase checkpoint.Phase, total, attempted int) {
	if attempted < total {
		r.logger.Warn("rows beyond max_rows were not attempted",
			"phase", phase,
			"rows", total,
			"attempted", attempted,
			"max_rows", r.cfg.MaxRows,
		)
	}
}

func (r *run) counts(entityType string) *Counts {
	switch entityType {
	case EntityLocation:
		return &r.summary.Locations
	case EntityUser:
		return &r.summary.Users
	case EntityWorkspace:
		return &r.summary.Workspaces
	default:
		return &r.summary.Devices
	}
}

// siteItem gives a site location a stable item id for batching and the
// checkpoint.
type siteItem struct {
	id  int
	loc ingest.SiteLocation
}

func (s siteItem) fields() map[string]string {
	f := map[string]string{
		"location_key": s.loc.Key,
		"name":         s.loc.Name,
	}
	if s.loc.ExternalID != "" {
		f["external_id"] = s.loc.ExternalID
	}
	if s.loc.TimeZone != "" {
		f["time_zone"] = s.loc.TimeZone
	}
	return f
}
