package ingest

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Address is the postal address of a site location.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// SiteLocation is one named location from site.json.
type SiteLocation struct {
	Key        string  `json:"location_key"`
	Name       string  `json:"name"`
	ExternalID string  `json:"external_id"`
	TimeZone   string  `json:"time_zone"`
	Language   string  `json:"preferred_language"`
	Address    Address `json:"address"`
}

// SiteBundle is the parsed site description shared by every row of a run.
// It is not modified after Build returns.
type SiteBundle struct {
	Locations []SiteLocation
	Profiles  map[string]map[string][]string
	InputHash string

	byKey map[string]int
}

// Location looks up a site location by its caller-assigned key.
func (s *SiteBundle) Location(key string) (SiteLocation, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return SiteLocation{}, false
	}
	return s.Locations[i], true
}

// Profile returns the members of a named profile, such as the license ids of
// a license bundle. Unknown kinds and names yield nil; profiles enrich rows
// but are never required.
func (s *SiteBundle) Profile(kind, name string) []string {
	if name == "" {
		return nil
	}
	return slices.Clone(s.Profiles[kind][name])
}

type siteDocument struct {
	Locations []SiteLocation                 `json:"locations"`
	Profiles  map[string]map[string][]string `json:"profiles"`
}

func parseSite(data []byte) (*SiteBundle, error) {
	var doc siteDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSite, SiteFile, err)
	}

	site := &SiteBundle{
		Locations: make([]SiteLocation, 0, len(doc.Locations)),
		Profiles:  doc.Profiles,
		byKey:     make(map[string]int, len(doc.Locations)),
	}
	if site.Profiles == nil {
		site.Profiles = map[string]map[string][]string{}
	}

	var problems []string
	for i, loc := range doc.Locations {
		loc = trimLocation(loc)

		switch {
		case loc.Key == "":
			problems = append(problems, fmt.Sprintf("location %d has no location_key", i+1))
			continue
		case loc.Name == "":
			problems = append(problems, fmt.Sprintf("location %q has no name", loc.Key))
			continue
		}
		if _, dup := site.byKey[loc.Key]; dup {
			problems = append(problems, fmt.Sprintf("location_key %q appears more than once", loc.Key))
			continue
		}

		site.byKey[loc.Key] = len(site.Locations)
		site.Locations = append(site.Locations, loc)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSite, strings.Join(problems, "; "))
	}
	return site, nil
}

func trimLocation(loc SiteLocation) SiteLocation {
	loc.Key = strings.TrimSpace(loc.Key)
	loc.Name = strings.TrimSpace(loc.Name)
	loc.ExternalID = strings.TrimSpace(loc.ExternalID)
	loc.TimeZone = strings.TrimSpace(loc.TimeZone)
	loc.Language = strings.TrimSpace(loc.Language)
	loc.Address.Line1 = strings.TrimSpace(loc.Address.Line1)
	loc.Address.Line2 = strings.TrimSpace(loc.Address.Line2)
	loc.Address.City = strings.TrimSpace(loc.Address.City)
	loc.Address.State = strings.TrimSpace(loc.Address.State)
	loc.Address.PostalCode = strings.TrimSpace(loc.Address.PostalCode)
	loc.Address.Country = strings.TrimSpace(loc.Address.Country)
	return loc
}
