package executor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provisioner/internal/ingest"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// fakeAPI is an in-memory provisioning.API that counts calls and fails on
// demand by natural key.
type fakeAPI struct {
	mu         sync.Mutex
	nextID     int
	locations  []provisioning.Location
	people     []provisioning.Person
	workspaces []provisioning.Workspace
	calls      map[string]int
	failures   map[string]error // natural key -> error for every call touching it
	onCall     func(op, key string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

func (f *fakeAPI) fail(key string, err error) { f.failures[strings.ToLower(key)] = err }

func (f *fakeAPI) enter(op, key string) error {
	f.calls[op]++
	if f.onCall != nil {
		f.onCall(op, key)
	}
	return f.failures[strings.ToLower(key)]
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAPI) ListLocations(_ context.Context, name string) ([]provisioning.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("locations.list", name); err != nil {
		return nil, err
	}
	var out []provisioning.Location
	for _, l := range f.locations {
		if strings.EqualFold(l.Name, name) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateLocation(_ context.Context, loc provisioning.Location) (provisioning.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("locations.create", loc.Name); err != nil {
		return provisioning.Location{}, err
	}
	loc.ID = f.id("loc")
	f.locations = append(f.locations, loc)
	return loc, nil
}

func (f *fakeAPI) UpdateLocation(_ context.Context, id string, loc provisioning.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("locations.update", loc.Name); err != nil {
		return err
	}
	for i := range f.locations {
		if f.locations[i].ID == id {
			loc.ID = id
			f.locations[i] = loc
			return nil
		}
	}
	return &provisioning.APIError{StatusCode: 404}
}

func (f *fakeAPI) ListPeople(_ context.Context, email string) ([]provisioning.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("people.list", email); err != nil {
		return nil, err
	}
	var out []provisioning.Person
	for _, p := range f.people {
		for _, e := range p.Emails {
			if strings.EqualFold(e, email) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeAPI) CreatePerson(_ context.Context, p provisioning.Person) (provisioning.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("people.create", firstEmail(p)); err != nil {
		return provisioning.Person{}, err
	}
	p.ID = f.id("person")
	f.people = append(f.people, p)
	return p, nil
}

func (f *fakeAPI) UpdatePerson(_ context.Context, id string, p provisioning.Person) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("people.update", firstEmail(p)); err != nil {
		return err
	}
	for i := range f.people {
		if f.people[i].ID == id {
			p.ID = id
			f.people[i] = p
			return nil
		}
	}
	return &provisioning.APIError{StatusCode: 404}
}

func (f *fakeAPI) ListWorkspaces(_ context.Context, name string) ([]provisioning.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("workspaces.list", name); err != nil {
		return nil, err
	}
	var out []provisioning.Workspace
	for _, w := range f.workspaces {
		if strings.EqualFold(w.DisplayName, name) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateWorkspace(_ context.Context, w provisioning.Workspace) (provisioning.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("workspaces.create", w.DisplayName); err != nil {
		return provisioning.Workspace{}, err
	}
	w.ID = f.id("ws")
	f.workspaces = append(f.workspaces, w)
	return w, nil
}

func (f *fakeAPI) UpdateWorkspace(_ context.Context, id string, w provisioning.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("workspaces.update", w.DisplayName); err != nil {
		return err
	}
	for i := range f.workspaces {
		if f.workspaces[i].ID == id {
			w.ID = id
			f.workspaces[i] = w
			return nil
		}
	}
	return &provisioning.APIError{StatusCode: 404}
}

func firstEmail(p provisioning.Person) string {
	if len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0]
}

// fakeRecorder keeps every summary it is handed.
type fakeRecorder struct {
	started  []Summary
	finished []Summary
	err      error
}

func (r *fakeRecorder) RecordStart(_ context.Context, s Summary) error {
	r.started = append(r.started, s)
	return r.err
}

func (r *fakeRecorder) RecordFinish(_ context.Context, s Summary) error {
	r.finished = append(r.finished, s)
	return r.err
}

// ==============================================================================
// Input fixtures
// ==============================================================================

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type siteFixture struct {
	Locations []ingest.SiteLocation          `json:"locations"`
	Profiles  map[string]map[string][]string `json:"profiles"`
}

func defaultSite() siteFixture {
	return siteFixture{
		Locations: []ingest.SiteLocation{
			{Key: "LOC1", Name: "Main Office", TimeZone: "Europe/Oslo"},
		},
		Profiles: map[string]map[string][]string{
			"licenses": {"standard": {"lic-calling", "lic-messaging"}},
		},
	}
}

// inputDir writes site.json and the given CSV files into a temp directory.
// files maps a file name to its data rows; each row maps column -> value.
func inputDir(t *testing.T, site siteFixture, files map[string][]map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	data, err := json.Marshal(site)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ingest.SiteFile), data, 0o644))

	headers := map[string][]string{
		ingest.UsersFile:      ingest.UsersHeader,
		ingest.WorkspacesFile: ingest.WorkspacesHeader,
		ingest.DevicesFile:    ingest.DevicesHeader,
	}
	for name, rows := range files {
		header, ok := headers[name]
		require.True(t, ok, "unknown input file %s", name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(csvText(header, rows)), 0o644))
	}
	return dir
}

func csvText(header []string, rows []map[string]string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Write(header)
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = row[col]
		}
		w.Write(record)
	}
	w.Flush()
	return b.String()
}

func user(email, location string) map[string]string {
	return map[string]string{
		"email":           email,
		"first_name":      "Test",
		"last_name":       "User",
		"location_key":    location,
		"license_profile": "standard",
	}
}

// readLog returns the records of an output CSV, header included.
func readLog(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

// column returns the values of one named column, header excluded.
func column(records [][]string, name string) []string {
	idx := -1
	for i, h := range records[0] {
		if h == name {
			idx = i
		}
	}
	var out []string
	for _, rec := range records[1:] {
		out = append(out, rec[idx])
	}
	return out
}
