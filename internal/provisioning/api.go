// Package provisioning describes the remote directory/telephony API the
// executor drives, and provides an HTTP client for it.
//
// The executor only relies on three capabilities per entity kind: list by
// natural key, create, and update by remote id. Every call may fail with an
// *APIError carrying the HTTP status.
package provisioning

import (
	"context"
	"fmt"
	"strings"
)

// API is the remote capability surface.
type API interface {
	ListLocations(ctx context.Context, name string) ([]Location, error)
	CreateLocation(ctx context.Context, loc Location) (Location, error)
	UpdateLocation(ctx context.Context, id string, loc Location) error

	ListPeople(ctx context.Context, email string) ([]Person, error)
	CreatePerson(ctx context.Context, p Person) (Person, error)
	UpdatePerson(ctx context.Context, id string, p Person) error

	ListWorkspaces(ctx context.Context, displayName string) ([]Workspace, error)
	CreateWorkspace(ctx context.Context, w Workspace) (Workspace, error)
	UpdateWorkspace(ctx context.Context, id string, w Workspace) error
}

// Address is a postal address on a remote location.
type Address struct {
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Location struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	ExternalID        string  `json:"externalId,omitempty"`
	TimeZone          string  `json:"timeZone,omitempty"`
	PreferredLanguage string  `json:"preferredLanguage,omitempty"`
	Address           Address `json:"address"`
}

type Person struct {
	ID               string   `json:"id,omitempty"`
	Emails           []string `json:"emails"`
	DisplayName      string   `json:"displayName,omitempty"`
	FirstName        string   `json:"firstName,omitempty"`
	LastName         string   `json:"lastName,omitempty"`
	LocationID       string   `json:"locationId,omitempty"`
	Extension        string   `json:"extension,omitempty"`
	PhoneNumber      string   `json:"phoneNumber,omitempty"`
	MobileNumber     string   `json:"mobileNumber,omitempty"`
	Department       string   `json:"department,omitempty"`
	Title            string   `json:"title,omitempty"`
	ManagerEmail     string   `json:"managerEmail,omitempty"`
	EmployeeID       string   `json:"employeeId,omitempty"`
	CostCenter       string   `json:"costCenter,omitempty"`
	Licenses         []string `json:"licenses"`
	CallingProfile   string   `json:"callingProfile,omitempty"`
	VoicemailEnabled bool     `json:"voicemailEnabled"`
	Language         string   `json:"preferredLanguage,omitempty"`
	TimeZone         string   `json:"timeZone,omitempty"`
}

type Workspace struct {
	ID             string   `json:"id,omitempty"`
	DisplayName    string   `json:"displayName"`
	LocationID     string   `json:"locationId,omitempty"`
	Type           string   `json:"type,omitempty"`
	Capacity       int      `json:"capacity,omitempty"`
	Extension      string   `json:"extension,omitempty"`
	PhoneNumber    string   `json:"phoneNumber,omitempty"`
	Licenses       []string `json:"licenses"`
	CallingProfile string   `json:"callingProfile,omitempty"`
	Floor          string   `json:"floor,omitempty"`
	ExternalID     string   `json:"externalId,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// APIError is a non-2xx response from the provisioning API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("provisioning api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("provisioning api error (status=%d): %s", e.StatusCode, body)
}

// HTTPStatus exposes the status code to error classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }
