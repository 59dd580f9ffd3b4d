package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/provisioner/internal/ingest"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// Profile kinds looked up in the site bundle.
const licenseProfiles = "licenses"

func buildLocation(loc ingest.SiteLocation) provisioning.Location {
	return provisioning.Location{
		Name:              loc.Name,
		ExternalID:        loc.ExternalID,
		TimeZone:          loc.TimeZone,
		PreferredLanguage: loc.Language,
		Address: provisioning.Address{
			Address1:   loc.Address.Line1,
			Address2:   loc.Address.Line2,
			City:       loc.Address.City,
			State:      loc.Address.State,
			PostalCode: loc.Address.PostalCode,
			Country:    loc.Address.Country,
		},
	}
}

func buildPerson(u ingest.UserRow, locationID string, site *ingest.SiteBundle) (provisioning.Person, error) {
	voicemail, err := parseFlag("voicemail_enabled", u.VoicemailEnabled)
	if err != nil {
		return provisioning.Person{}, err
	}

	displayName := u.DisplayName
	if displayName == "" {
		displayName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}

	return provisioning.Person{
		Emails:           []string{u.Email},
		DisplayName:      displayName,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		LocationID:       locationID,
		Extension:        u.Extension,
		PhoneNumber:      u.PhoneNumber,
		MobileNumber:     u.MobileNumber,
		Department:       u.Department,
		Title:            u.Title,
		ManagerEmail:     u.ManagerEmail,
		EmployeeID:       u.EmployeeID,
		CostCenter:       u.CostCenter,
		Licenses:         licenses(site, u.LicenseProfile),
		CallingProfile:   u.CallingProfile,
		VoicemailEnabled: voicemail,
		Language:         u.Language,
		TimeZone:         u.TimeZone,
	}, nil
}

func buildWorkspace(w ingest.WorkspaceRow, locationID string, site *ingest.SiteBundle) (provisioning.Workspace, error) {
	capacity := 0
	if w.Capacity != "" {
		n, err := strconv.Atoi(w.Capacity)
		if err != nil || n < 0 {
			return provisioning.Workspace{}, fmt.Errorf("%w: capacity %q is not a non-negative integer", errInvalidRow, w.Capacity)
		}
		capacity = n
	}

	return provisioning.Workspace{
		DisplayName:    w.DisplayName,
		LocationID:     locationID,
		Type:           w.WorkspaceType,
		Capacity:       capacity,
		Extension:      w.Extension,
		PhoneNumber:    w.PhoneNumber,
		Licenses:       licenses(site, w.LicenseProfile),
		CallingProfile: w.CallingProfile,
		Floor:          w.Floor,
		ExternalID:     w.ExternalID,
		Notes:          w.Notes,
	}, nil
}

// licenses resolves a license profile name. Unknown or empty names give an
// empty list, never an error.
func licenses(site *ingest.SiteBundle, profile string) []string {
	ids := site.Profile(licenseProfiles, profile)
	if ids == nil {
		return []string{}
	}
	return ids
}

// parseFlag reads a yes/no cell. Values are already lower-cased by ingestion.
func parseFlag(column, value string) (bool, error) {
	switch value {
	case "":
		return false, nil
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s %q is not a yes/no value", errInvalidRow, column, value)
	}
}
