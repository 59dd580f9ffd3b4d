package ingest

import "strings"

// Kind names an entity kind.
type Kind string

const (
	KindUser      Kind = "user"
	KindWorkspace Kind = "workspace"
	KindDevice    Kind = "device"
)

// fieldDef describes one fixed CSV column.
type fieldDef struct {
	Name       string              // Header text, matched exactly
	Normalizer func(string) string // Applied after trimming, only to present values
}

var userFields = []fieldDef{
	{Name: "email", Normalizer: strings.ToLower},
	{Name: "first_name"},
	{Name: "last_name"},
	{Name: "display_name"},
	{Name: "location_key"},
	{Name: "extension"},
	{Name: "phone_number"},
	{Name: "mobile_number"},
	{Name: "department"},
	{Name: "title"},
	{Name: "manager_email", Normalizer: strings.ToLower},
	{Name: "employee_id"},
	{Name: "cost_center"},
	{Name: "license_profile"},
	{Name: "calling_profile"},
	{Name: "voicemail_enabled", Normalizer: strings.ToLower},
	{Name: "language"},
	{Name: "time_zone"},
	{Name: "notes"},
}

var workspaceFields = []fieldDef{
	{Name: "display_name"},
	{Name: "location_key"},
	{Name: "workspace_type", Normalizer: strings.ToLower},
	{Name: "capacity"},
	{Name: "extension"},
	{Name: "phone_number"},
	{Name: "license_profile"},
	{Name: "calling_profile"},
	{Name: "floor"},
	{Name: "external_id"},
	{Name: "notes"},
}

var deviceFields = []fieldDef{
	{Name: "device_type", Normalizer: strings.ToLower},
	{Name: "owner_key"},
	{Name: "location_key"},
	{Name: "mac_address", Normalizer: strings.ToUpper},
	{Name: "model"},
	{Name: "tag"},
}

// Expected headers, in column order.
var (
	UsersHeader      = columnNames(userFields)
	WorkspacesHeader = columnNames(workspaceFields)
	DevicesHeader    = columnNames(deviceFields)
)

func columnNames(defs []fieldDef) []string {
	names := make([]string, len(defs))
	for i, s := range defs {
		names[i] = s.Name
	}
	return names
}

// cells holds the normalized values of one record keyed by column name.
// Absent values are simply missing from the map.
type cells map[string]string

// fieldSet accumulates present fields for Fields().
type fieldSet map[string]string

func (f fieldSet) add(name, value string) fieldSet {
	if value != "" {
		f[name] = value
	}
	return f
}

// UserRow is one accepted line of users.csv.
type UserRow struct {
	RowID            int
	Email            string
	FirstName        string
	LastName         string
	DisplayName      string
	LocationKey      string
	Extension        string
	PhoneNumber      string
	MobileNumber     string
	Department       string
	Title            string
	ManagerEmail     string
	EmployeeID       string
	CostCenter       string
	LicenseProfile   string
	CallingProfile   string
	VoicemailEnabled string
	Language         string
	TimeZone         string
	Notes            string
}

func newUserRow(id int, c cells) UserRow {
	return UserRow{
		RowID:            id,
		Email:            c["email"],
		FirstName:        c["first_name"],
		LastName:         c["last_name"],
		DisplayName:      c["display_name"],
		LocationKey:      c["location_key"],
		Extension:        c["extension"],
		PhoneNumber:      c["phone_number"],
		MobileNumber:     c["mobile_number"],
		Department:       c["department"],
		Title:            c["title"],
		ManagerEmail:     c["manager_email"],
		EmployeeID:       c["employee_id"],
		CostCenter:       c["cost_center"],
		LicenseProfile:   c["license_profile"],
		CallingProfile:   c["calling_profile"],
		VoicemailEnabled: c["voicemail_enabled"],
		Language:         c["language"],
		TimeZone:         c["time_zone"],
		Notes:            c["notes"],
	}
}

// EntityKey returns the lower-cased email.
func (r UserRow) EntityKey() string { return r.Email }

func (r UserRow) locationKey() string { return r.LocationKey }

// Fields returns the present fields keyed by column name.
func (r UserRow) Fields() map[string]string {
	return fieldSet{}.
		add("email", r.Email).
		add("first_name", r.FirstName).
		add("last_name", r.LastName).
		add("display_name", r.DisplayName).
		add("location_key", r.LocationKey).
		add("extension", r.Extension).
		add("phone_number", r.PhoneNumber).
		add("mobile_number", r.MobileNumber).
		add("department", r.Department).
		add("title", r.Title).
		add("manager_email", r.ManagerEmail).
		add("employee_id", r.EmployeeID).
		add("cost_center", r.CostCenter).
		add("license_profile", r.LicenseProfile).
		add("calling_profile", r.CallingProfile).
		add("voicemail_enabled", r.VoicemailEnabled).
		add("language", r.Language).
		add("time_zone", r.TimeZone).
		add("notes", r.Notes)
}

// WorkspaceRow is one accepted line of workspaces.csv.
type WorkspaceRow struct {
	RowID          int
	DisplayName    string
	LocationKey    string
	WorkspaceType  string
	Capacity       string
	Extension      string
	PhoneNumber    string
	LicenseProfile string
	CallingProfile string
	Floor          string
	ExternalID     string
	Notes          string
}

func newWorkspaceRow(id int, c cells) WorkspaceRow {
	return WorkspaceRow{
		RowID:          id,
		DisplayName:    c["display_name"],
		LocationKey:    c["location_key"],
		WorkspaceType:  c["workspace_type"],
		Capacity:       c["capacity"],
		Extension:      c["extension"],
		PhoneNumber:    c["phone_number"],
		LicenseProfile: c["license_profile"],
		CallingProfile: c["calling_profile"],
		Floor:          c["floor"],
		ExternalID:     c["external_id"],
		Notes:          c["notes"],
	}
}

// EntityKey returns the display name.
func (r WorkspaceRow) EntityKey() string { return r.DisplayName }

func (r WorkspaceRow) locationKey() string { return r.LocationKey }

func (r WorkspaceRow) Fields() map[string]string {
	return fieldSet{}.
		add("display_name", r.DisplayName).
		add("location_key", r.LocationKey).
		add("workspace_type", r.WorkspaceType).
		add("capacity", r.Capacity).
		add("extension", r.Extension).
		add("phone_number", r.PhoneNumber).
		add("license_profile", r.LicenseProfile).
		add("calling_profile", r.CallingProfile).
		add("floor", r.Floor).
		add("external_id", r.ExternalID).
		add("notes", r.Notes)
}

// DeviceRow is one accepted line of devices.csv.
type DeviceRow struct {
	RowID       int
	DeviceType  string
	OwnerKey    string
	LocationKey string
	MACAddress  string
	Model       string
	Tag         string
}

func newDeviceRow(id int, c cells) DeviceRow {
	return DeviceRow{
		RowID:       id,
		DeviceType:  c["device_type"],
		OwnerKey:    c["owner_key"],
		LocationKey: c["location_key"],
		MACAddress:  c["mac_address"],
		Model:       c["model"],
		Tag:         c["tag"],
	}
}

// EntityKey returns "type:owner", or "" when either part is absent.
func (r DeviceRow) EntityKey() string {
	if r.DeviceType == "" || r.OwnerKey == "" {
		return ""
	}
	return r.DeviceType + ":" + r.OwnerKey
}

func (r DeviceRow) locationKey() string { return r.LocationKey }

func (r DeviceRow) Fields() map[string]string {
	return fieldSet{}.
		add("device_type", r.DeviceType).
		add("owner_key", r.OwnerKey).
		add("location_key", r.LocationKey).
		add("mac_address", r.MACAddress).
		add("model", r.Model).
		add("tag", r.Tag)
}
