package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/provisioner/internal/reason"
)

const testSite = `{
  "locations": [
    {"location_key": "LOC1", "name": "Headquarters", "time_zone": "America/Chicago",
     "address": {"line1": "1 Main St", "city": "Springfield", "country": "US"}}
  ],
  "profiles": {"licenses": {"standard": ["lic-calling", "lic-messaging"]}}
}`

// userLine builds a users.csv record from the fields that matter in tests.
func userLine(email, location string) string {
	cols := make([]string, len(UsersHeader))
	cols[0] = email
	cols[4] = location
	return strings.Join(cols, ",")
}

func writeInput(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func csvFile(header []string, lines ...string) string {
	return strings.Join(append([]string{strings.Join(header, ",")}, lines...), "\n") + "\n"
}

// ============================================================================
// Build Tests
// ============================================================================

func TestBuild_DuplicateEmail(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, userLine("ana@example.com", "LOC1"), userLine("ana@example.com", "LOC1")),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(res.Users) != 1 {
		t.Errorf("len(Users) = %d, want 1", len(res.Users))
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("len(Rejected) = %d, want 1", len(res.Rejected))
	}
	if res.Rejected[0].Reason != reason.DuplicateKey {
		t.Errorf("Rejected[0].Reason = %q, want %q", res.Rejected[0].Reason, reason.DuplicateKey)
	}
	if res.Users[0].RowID != 1 || res.Rejected[0].RowID != 2 {
		t.Errorf("first occurrence should win: user row %d, rejected row %d", res.Users[0].RowID, res.Rejected[0].RowID)
	}
}

func TestBuild_DuplicateIgnoresCase(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, userLine("Ana@Example.com", "LOC1"), userLine(" ana@example.com ", "LOC1")),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Users) != 1 || res.Users[0].Email != "ana@example.com" {
		t.Errorf("Users = %+v, want one lower-cased email", res.Users)
	}
	if len(res.Rejected) != 1 {
		t.Errorf("len(Rejected) = %d, want 1", len(res.Rejected))
	}
}

func TestBuild_MissingKeyAndLocation(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, userLine("", "")),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Users) != 0 {
		t.Errorf("len(Users) = %d, want 0", len(res.Users))
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("len(Rejected) = %d, want 1", len(res.Rejected))
	}
	if res.Rejected[0].Reason != reason.InvalidInputSchema {
		t.Errorf("Reason = %q, want %q", res.Rejected[0].Reason, reason.InvalidInputSchema)
	}
	if res.Rejected[0].Message != "missing email, location_key" {
		t.Errorf("Message = %q", res.Rejected[0].Message)
	}
}

func TestBuild_MissingUsersFile(t *testing.T) {
	dir := writeInput(t, map[string]string{SiteFile: testSite})

	res, err := Build(dir)
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("Build() error = %v, want ErrMissingInput", err)
	}
	if res != nil {
		t.Error("Build() should not return a result on fatal error")
	}
}

func TestBuild_MissingSiteFile(t *testing.T) {
	dir := writeInput(t, map[string]string{UsersFile: csvFile(UsersHeader)})

	if _, err := Build(dir); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("Build() error = %v, want ErrMissingInput", err)
	}
}

func TestBuild_OptionalFilesAbsent(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, userLine("ana@example.com", "LOC1")),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Workspaces) != 0 || len(res.Devices) != 0 {
		t.Errorf("got %d workspaces, %d devices, want none", len(res.Workspaces), len(res.Devices))
	}
}

func TestBuild_HeaderMismatch(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name: "users column renamed",
			files: map[string]string{
				SiteFile:  testSite,
				UsersFile: "mail," + strings.Join(UsersHeader[1:], ",") + "\n",
			},
		},
		{
			name: "users column missing",
			files: map[string]string{
				SiteFile:  testSite,
				UsersFile: strings.Join(UsersHeader[:18], ",") + "\n",
			},
		},
		{
			name: "workspaces wrong order",
			files: map[string]string{
				SiteFile:       testSite,
				UsersFile:      csvFile(UsersHeader),
				WorkspacesFile: "location_key,display_name," + strings.Join(WorkspacesHeader[2:], ",") + "\n",
			},
		},
		{
			name: "empty devices file",
			files: map[string]string{
				SiteFile:    testSite,
				UsersFile:   csvFile(UsersHeader),
				DevicesFile: "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(writeInput(t, tt.files))
			if !errors.Is(err, ErrHeaderMismatch) {
				t.Errorf("Build() error = %v, want ErrHeaderMismatch", err)
			}
		})
	}
}

func TestBuild_HeaderWithBOMAndPadding(t *testing.T) {
	padded := make([]string, len(UsersHeader))
	for i, h := range UsersHeader {
		padded[i] = " " + h + " "
	}
	users := "\xEF\xBB\xBF" + strings.Join(padded, ",") + "\n" + userLine("ana@example.com", "LOC1") + "\n"

	res, err := Build(writeInput(t, map[string]string{SiteFile: testSite, UsersFile: users}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(res.Users) != 1 {
		t.Errorf("len(Users) = %d, want 1", len(res.Users))
	}
}

func TestBuild_RowIDsStayGapless(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile: testSite,
		UsersFile: csvFile(UsersHeader,
			userLine("a@example.com", "LOC1"),
			userLine("", "LOC1"),
			"too,few,columns",
			userLine("b@example.com", "LOC1"),
		),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Users) != 2 || res.Users[0].RowID != 1 || res.Users[1].RowID != 4 {
		t.Errorf("user row ids = %v, want [1 4]", userIDs(res.Users))
	}
	if len(res.Rejected) != 2 || res.Rejected[0].RowID != 2 || res.Rejected[1].RowID != 3 {
		t.Fatalf("rejected = %+v, want rows 2 and 3", res.Rejected)
	}
	if res.Rejected[1].Reason != reason.InvalidInputSchema {
		t.Errorf("short row reason = %q", res.Rejected[1].Reason)
	}
	if res.Rejected[1].Raw["email"] != "too" {
		t.Errorf("raw row = %v, want cells keyed by header", res.Rejected[1].Raw)
	}
}

func userIDs(rows []UserRow) []int {
	ids := make([]int, len(rows))
	for i, r := range rows {
		ids[i] = r.RowID
	}
	return ids
}

func TestBuild_NormalizesFields(t *testing.T) {
	cols := make([]string, len(UsersHeader))
	cols[0] = "  Ana@Example.COM "
	cols[1] = " Ana "
	cols[4] = "LOC1"
	cols[13] = "standard"
	cols[18] = "   "

	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, strings.Join(cols, ",")),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}
	u := res.Users[0]
	if u.Email != "ana@example.com" || u.FirstName != "Ana" || u.Notes != "" {
		t.Errorf("row not normalized: %+v", u)
	}

	fields := u.Fields()
	if len(fields) != 4 {
		t.Errorf("Fields() = %v, want only present fields", fields)
	}
	if _, ok := fields["notes"]; ok {
		t.Error("blank notes should be absent")
	}
}

func TestBuild_WorkspacesAndDevices(t *testing.T) {
	dir := writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader),
		WorkspacesFile: csvFile(WorkspacesHeader,
			"Lobby,LOC1,Meeting,4,,,,,1,,",
			"Lobby,LOC1,Meeting,4,,,,,1,,",
			",LOC1,,,,,,,,,",
		),
		DevicesFile: csvFile(DevicesHeader,
			"Phone,ana@example.com,LOC1,aa:bb:cc:dd:ee:ff,8845,",
			"phone,ana@example.com,LOC1,,,",
			"phone,,LOC1,,,",
		),
	})

	res, err := Build(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Workspaces) != 1 || res.Workspaces[0].EntityKey() != "Lobby" {
		t.Errorf("Workspaces = %+v", res.Workspaces)
	}
	if len(res.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(res.Devices))
	}
	d := res.Devices[0]
	if d.EntityKey() != "phone:ana@example.com" || d.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("device = %+v", d)
	}

	counts := map[Kind]map[reason.Code]int{}
	for _, r := range res.Rejected {
		if counts[r.Kind] == nil {
			counts[r.Kind] = map[reason.Code]int{}
		}
		counts[r.Kind][r.Reason]++
	}
	if counts[KindWorkspace][reason.DuplicateKey] != 1 || counts[KindWorkspace][reason.InvalidInputSchema] != 1 {
		t.Errorf("workspace rejections = %v", counts[KindWorkspace])
	}
	if counts[KindDevice][reason.DuplicateKey] != 1 || counts[KindDevice][reason.InvalidInputSchema] != 1 {
		t.Errorf("device rejections = %v", counts[KindDevice])
	}
}

// ============================================================================
// Input Hash Tests
// ============================================================================

func TestBuild_InputHash(t *testing.T) {
	files := map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader, userLine("ana@example.com", "LOC1")),
	}

	first, err := Build(writeInput(t, files))
	if err != nil {
		t.Fatal(err)
	}
	again, err := Build(writeInput(t, files))
	if err != nil {
		t.Fatal(err)
	}
	if first.InputHash != again.InputHash {
		t.Error("same inputs produced different hashes")
	}
	if len(first.InputHash) != 64 {
		t.Errorf("hash %q is not hex sha256", first.InputHash)
	}
	if first.Site.InputHash != first.InputHash {
		t.Error("site bundle should carry the input hash")
	}

	files[WorkspacesFile] = csvFile(WorkspacesHeader)
	withWorkspaces, err := Build(writeInput(t, files))
	if err != nil {
		t.Fatal(err)
	}
	if withWorkspaces.InputHash == first.InputHash {
		t.Error("adding a file should change the hash")
	}

	files[UsersFile] = csvFile(UsersHeader, userLine("bob@example.com", "LOC1"))
	changed, err := Build(writeInput(t, files))
	if err != nil {
		t.Fatal(err)
	}
	if changed.InputHash == withWorkspaces.InputHash {
		t.Error("changing a row should change the hash")
	}
}

// ============================================================================
// Site Bundle Tests
// ============================================================================

func TestBuild_SiteBundle(t *testing.T) {
	res, err := Build(writeInput(t, map[string]string{
		SiteFile:  testSite,
		UsersFile: csvFile(UsersHeader),
	}))
	if err != nil {
		t.Fatal(err)
	}

	loc, ok := res.Site.Location("LOC1")
	if !ok || loc.Name != "Headquarters" || loc.Address.City != "Springfield" {
		t.Errorf("Location(LOC1) = %+v, %v", loc, ok)
	}
	if _, ok := res.Site.Location("LOC9"); ok {
		t.Error("unknown location reported present")
	}

	if got := res.Site.Profile("licenses", "standard"); len(got) != 2 {
		t.Errorf("Profile(licenses, standard) = %v", got)
	}
	if got := res.Site.Profile("licenses", "premium"); got != nil {
		t.Errorf("unknown profile = %v, want nil", got)
	}
	if got := res.Site.Profile("devices", "standard"); got != nil {
		t.Errorf("unknown profile kind = %v, want nil", got)
	}
	if got := res.Site.Profile("licenses", ""); got != nil {
		t.Errorf("empty profile name = %v, want nil", got)
	}
}

func TestBuild_InvalidSite(t *testing.T) {
	tests := []struct {
		name string
		site string
	}{
		{"malformed json", `{"locations": [`},
		{"missing key", `{"locations": [{"name": "HQ"}]}`},
		{"missing name", `{"locations": [{"location_key": "LOC1"}]}`},
		{"duplicate key", `{"locations": [{"location_key": "LOC1", "name": "A"}, {"location_key": "LOC1", "name": "B"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(writeInput(t, map[string]string{
				SiteFile:  tt.site,
				UsersFile: csvFile(UsersHeader),
			}))
			if !errors.Is(err, ErrInvalidSite) {
				t.Errorf("Build() error = %v, want ErrInvalidSite", err)
			}
		})
	}
}

// ============================================================================
// Byte Cleanup Tests
// ============================================================================

func TestCleanBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "a,b\n", "a,b\n"},
		{"bom stripped", "\xEF\xBB\xBFa,b", "a,b"},
		{"valid multibyte kept", "café", "café"},
		{"invalid byte replaced", "caf\xE9,x", "caf?,x"},
		{"bom only at start", "a\xEF\xBB\xBF", "a\xEF\xBB\xBF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(cleanBytes([]byte(tt.in))); got != tt.want {
				t.Errorf("cleanBytes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
