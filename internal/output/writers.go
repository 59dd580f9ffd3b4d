// Package output maintains the three append-only audit logs of a run.
//
//	results.csv        confirmed successes with the remote identifier
//	pending_rows.csv   row-level failures, with the payload needed to retry
//	rejected_rows.csv  rows that never reached the remote API
//
// Every append is flushed and fsynced before the call returns. Whether an
// entity was already created must be answerable from disk after a crash.
package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JonMunkholm/provisioner/internal/reason"
)

const (
	ResultsFile  = "results.csv"
	PendingFile  = "pending_rows.csv"
	RejectedFile = "rejected_rows.csv"
)

var (
	resultsHeader = []string{
		"timestamp", "run_id", "batch_id", "row_id", "entity_type", "entity_key",
		"step", "status", "http_status", "remote_id",
	}
	pendingHeader = []string{
		"timestamp", "run_id", "batch_id", "row_id", "entity_type", "entity_key",
		"step", "reason_code", "reason_message", "retryable", "http_status", "payload",
	}
	rejectedHeader = []string{
		"timestamp", "run_id", "row_id", "entity_type", "entity_key",
		"reason_code", "reason_message", "raw_row",
	}
)

// Result is a confirmed success.
type Result struct {
	BatchID    int
	RowID      int
	EntityType string
	EntityKey  string
	Step       string
	Status     string // created or updated
	HTTPStatus int
	RemoteID   string
}

// Pending is a row-level failure left for a retry driver or a human.
type Pending struct {
	BatchID    int
	RowID      int
	EntityType string
	EntityKey  string
	Step       string
	Reason     reason.Info
	Payload    map[string]string
}

// Rejected is an input defect found during ingestion.
type Rejected struct {
	RowID      int
	EntityType string
	EntityKey  string
	Reason     reason.Code
	Message    string
	Raw        map[string]string
}

// Writers owns the three log files of one run directory.
type Writers struct {
	runID    string
	now      func() time.Time
	results  *logFile
	pending  *logFile
	rejected *logFile
}

// Open opens (or creates) the three logs under dir. A header is written only
// when a file is new or empty, so repeated runs append to the same logs.
func Open(dir, runID string) (*Writers, error) {
	w := &Writers{runID: runID, now: time.Now}

	var err error
	if w.results, err = openLog(filepath.Join(dir, ResultsFile), resultsHeader); err != nil {
		return nil, err
	}
	if w.pending, err = openLog(filepath.Join(dir, PendingFile), pendingHeader); err != nil {
		w.results.close()
		return nil, err
	}
	if w.rejected, err = openLog(filepath.Join(dir, RejectedFile), rejectedHeader); err != nil {
		w.results.close()
		w.pending.close()
		return nil, err
	}
	return w, nil
}

// SetClock replaces the timestamp source.
func (w *Writers) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

func (w *Writers) timestamp() string {
	return w.now().UTC().Format(time.RFC3339)
}

// WriteResult appends one success line.
func (w *Writers) WriteResult(r Result) error {
	return w.results.append([]string{
		w.timestamp(),
		w.runID,
		strconv.Itoa(r.BatchID),
		strconv.Itoa(r.RowID),
		r.EntityType,
		r.EntityKey,
		r.Step,
		r.Status,
		formatStatus(r.HTTPStatus),
		r.RemoteID,
	})
}

// WritePending appends one failure line.
func (w *Writers) WritePending(p Pending) error {
	payload, err := encodeFields(p.Payload)
	if err != nil {
		return fmt.Errorf("encode pending payload for row %d: %w", p.RowID, err)
	}
	return w.pending.append([]string{
		w.timestamp(),
		w.runID,
		strconv.Itoa(p.BatchID),
		strconv.Itoa(p.RowID),
		p.EntityType,
		p.EntityKey,
		p.Step,
		string(p.Reason.Code),
		p.Reason.Message,
		strconv.FormatBool(p.Reason.Retryable()),
		formatStatus(p.Reason.HTTPStatus),
		payload,
	})
}

// WriteRejected appends one input-defect line.
func (w *Writers) WriteRejected(r Rejected) error {
	raw, err := encodeFields(r.Raw)
	if err != nil {
		return fmt.Errorf("encode raw row %d: %w", r.RowID, err)
	}
	return w.rejected.append([]string{
		w.timestamp(),
		w.runID,
		strconv.Itoa(r.RowID),
		r.EntityType,
		r.EntityKey,
		string(r.Reason),
		r.Message,
		raw,
	})
}

// Close closes all three files.
func (w *Writers) Close() error {
	return errors.Join(w.results.close(), w.pending.close(), w.rejected.close())
}

// Paths lists the log files in a stable order.
func Paths(dir string) []string {
	return []string{
		filepath.Join(dir, ResultsFile),
		filepath.Join(dir, PendingFile),
		filepath.Join(dir, RejectedFile),
	}
}

// ============================================================================
// Log File
// ============================================================================

type logFile struct {
	f *os.File
	w *csv.Writer
}

func openLog(path string, header []string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	lf := &logFile{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := lf.append(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return lf, nil
}

// append writes one record and makes it durable.
func (l *logFile) append(record []string) error {
	if err := l.w.Write(record); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(l.f.Name()), err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(l.f.Name()), err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(l.f.Name()), err)
	}
	return nil
}

func (l *logFile) close() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func formatStatus(status int) string {
	if status == 0 {
		return ""
	}
	return strconv.Itoa(status)
}

// encodeFields renders a field map as a JSON object with sorted keys.
func encodeFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
