// Package ingest loads and validates one input directory.
//
// An input directory holds:
//
//	site.json        required  locations and profiles
//	users.csv        required  19 fixed columns
//	workspaces.csv   optional  11 fixed columns
//	devices.csv      optional  6 fixed columns
//
// Whole-run problems (a missing required file, header drift, an unusable
// site.json) are returned as errors before any row is looked at. Row problems
// never fail the build; they become RejectedRow values with a reason code.
//
// Ingestion is read-only: nothing is written and no remote call is made.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JonMunkholm/provisioner/internal/reason"
)

// Input file names.
const (
	SiteFile       = "site.json"
	UsersFile      = "users.csv"
	WorkspacesFile = "workspaces.csv"
	DevicesFile    = "devices.csv"
)

var (
	ErrMissingInput   = errors.New("required input file missing")
	ErrHeaderMismatch = errors.New("csv header mismatch")
	ErrInvalidSite    = errors.New("invalid site bundle")
)

// RejectedRow is a row that failed validation. It never reaches the executor.
type RejectedRow struct {
	RowID     int
	Kind      Kind
	EntityKey string
	Reason    reason.Code
	Message   string
	Raw       map[string]string
}

// Result is everything the executor needs from one input directory.
type Result struct {
	Site       *SiteBundle
	Users      []UserRow
	Workspaces []WorkspaceRow
	Devices    []DeviceRow
	Rejected   []RejectedRow
	InputHash  string
}

// Build reads, validates and normalizes the input directory.
func Build(dir string) (*Result, error) {
	siteData, _, err := readInput(dir, SiteFile, true)
	if err != nil {
		return nil, err
	}
	usersData, _, err := readInput(dir, UsersFile, true)
	if err != nil {
		return nil, err
	}
	workspacesData, hasWorkspaces, err := readInput(dir, WorkspacesFile, false)
	if err != nil {
		return nil, err
	}
	devicesData, hasDevices, err := readInput(dir, DevicesFile, false)
	if err != nil {
		return nil, err
	}

	hasher := newInputHasher()
	hasher.add(SiteFile, siteData)
	hasher.add(UsersFile, usersData)
	if hasWorkspaces {
		hasher.add(WorkspacesFile, workspacesData)
	}
	if hasDevices {
		hasher.add(DevicesFile, devicesData)
	}

	site, err := parseSite(cleanBytes(siteData))
	if err != nil {
		return nil, err
	}
	site.InputHash = hasher.sum()

	res := &Result{Site: site, InputHash: site.InputHash}

	var rejected []RejectedRow

	res.Users, rejected, err = parseRows(UsersFile, usersData, userFields, KindUser, "email", newUserRow)
	if err != nil {
		return nil, err
	}
	res.Rejected = append(res.Rejected, rejected...)

	if hasWorkspaces {
		res.Workspaces, rejected, err = parseRows(WorkspacesFile, workspacesData, workspaceFields, KindWorkspace, "display_name", newWorkspaceRow)
		if err != nil {
			return nil, err
		}
		res.Rejected = append(res.Rejected, rejected...)
	}

	if hasDevices {
		res.Devices, rejected, err = parseRows(DevicesFile, devicesData, deviceFields, KindDevice, "device_type and owner_key", newDeviceRow)
		if err != nil {
			return nil, err
		}
		res.Rejected = append(res.Rejected, rejected...)
	}

	return res, nil
}

// readInput returns the raw bytes of dir/name. A missing optional file is
// reported as present=false with no error.
func readInput(dir, name string, required bool) (data []byte, present bool, err error) {
	data, err = os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return nil, false, fmt.Errorf("%w: %s", ErrMissingInput, filepath.Join(dir, name))
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}

// ============================================================================
// Input Hash
// ============================================================================

// inputHasher digests every file read, in call order. Each file contributes
// its name, a NUL separator, then its raw bytes.
type inputHasher struct {
	h hash.Hash
}

func newInputHasher() *inputHasher {
	return &inputHasher{h: sha256.New()}
}

func (ih *inputHasher) add(name string, data []byte) {
	ih.h.Write([]byte(name))
	ih.h.Write([]byte{0})
	ih.h.Write(data)
}

func (ih *inputHasher) sum() string {
	return hex.EncodeToString(ih.h.Sum(nil))
}

// ============================================================================
// Row Parsing
// ============================================================================

type row interface {
	EntityKey() string
	locationKey() string
}

// parseRows validates one CSV file. Row ids count parsed data records from 1,
// so rejected rows keep their position and accepted ids stay comparable with
// the source file.
func parseRows[T row](
	file string,
	data []byte,
	defs []fieldDef,
	kind Kind,
	keyName string,
	build func(id int, c cells) T,
) ([]T, []RejectedRow, error) {
	r := csv.NewReader(bytes.NewReader(cleanBytes(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrHeaderMismatch, file)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s header: %w", file, err)
	}

	want := columnNames(defs)
	if !equalHeaders(header, want) {
		return nil, nil, fmt.Errorf("%w: %s: got [%s], want [%s]",
			ErrHeaderMismatch, file, strings.Join(trimAll(header), ", "), strings.Join(want, ", "))
	}

	var (
		accepted []T
		rejected []RejectedRow
		seen     = make(map[string]int)
	)

	for id := 1; ; id++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", file, err)
		}

		if len(record) != len(defs) {
			rejected = append(rejected, RejectedRow{
				RowID:   id,
				Kind:    kind,
				Reason:  reason.InvalidInputSchema,
				Message: fmt.Sprintf("row has %d columns, header has %d", len(record), len(defs)),
				Raw:     rawRow(want, record),
			})
			continue
		}

		item := build(id, normalizeRecord(defs, record))
		key := item.EntityKey()

		if missing := missingFields(key, item.locationKey(), keyName); missing != "" {
			rejected = append(rejected, RejectedRow{
				RowID:     id,
				Kind:      kind,
				EntityKey: key,
				Reason:    reason.InvalidInputSchema,
				Message:   "missing " + missing,
				Raw:       rawRow(want, record),
			})
			continue
		}

		if firstID, dup := seen[key]; dup {
			rejected = append(rejected, RejectedRow{
				RowID:     id,
				Kind:      kind,
				EntityKey: key,
				Reason:    reason.DuplicateKey,
				Message:   fmt.Sprintf("%s %q already used by row %d", keyName, key, firstID),
				Raw:       rawRow(want, record),
			})
			continue
		}

		seen[key] = id
		accepted = append(accepted, item)
	}

	return accepted, rejected, nil
}

// normalizeRecord trims every cell, drops empty ones and applies each
// column's normalizer.
func normalizeRecord(defs []fieldDef, record []string) cells {
	c := make(cells, len(defs))
	for i, def := range defs {
		v := strings.TrimSpace(record[i])
		if v == "" {
			continue
		}
		if def.Normalizer != nil {
			v = def.Normalizer(v)
		}
		c[def.Name] = v
	}
	return c
}

func missingFields(key, location, keyName string) string {
	var missing []string
	if key == "" {
		missing = append(missing, keyName)
	}
	if location == "" {
		missing = append(missing, "location_key")
	}
	return strings.Join(missing, ", ")
}

// rawRow keeps the record as read for the audit log. Cells beyond the header
// are kept under positional names.
func rawRow(header, record []string) map[string]string {
	raw := make(map[string]string, len(record))
	for i, v := range record {
		name := fmt.Sprintf("column_%d", i+1)
		if i < len(header) {
			name = header[i]
		}
		raw[name] = v
	}
	return raw
}

func equalHeaders(got, want []string) bool {
	return slices.Equal(trimAll(got), want)
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
