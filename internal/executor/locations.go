package executor

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/provisioner/internal/ingest"
	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// LocationCache resolves site location keys to remote location ids.
//
// It belongs to a single run and is append-only: a resolved key is never
// looked up again. Failed lookups are not cached, so a later row with the
// same key tries again. It is not safe for concurrent use.
type LocationCache struct {
	api   provisioning.API
	site  *ingest.SiteBundle
	byKey map[string]string
}

// NewLocationCache returns an empty cache over the given site bundle.
func NewLocationCache(api provisioning.API, site *ingest.SiteBundle) *LocationCache {
	return &LocationCache{
		api:   api,
		site:  site,
		byKey: make(map[string]string),
	}
}

// Put records a known remote id, e.g. right after the location was upserted.
func (c *LocationCache) Put(key, remoteID string) {
	c.byKey[key] = remoteID
}

// Len returns the number of resolved keys.
func (c *LocationCache) Len() int { return len(c.byKey) }

// Resolve returns the remote id for a site location key. A key missing from
// the site bundle, or a name matching zero or several remote locations,
// fails with ErrAmbiguousMatch. API errors are returned as is.
func (c *LocationCache) Resolve(ctx context.Context, key string) (string, error) {
	if id, ok := c.byKey[key]; ok {
		return id, nil
	}

	loc, ok := c.site.Location(key)
	if !ok {
		return "", fmt.Errorf("%w: location_key %q is not in the site bundle", ErrAmbiguousMatch, key)
	}

	found, err := c.api.ListLocations(ctx, loc.Name)
	if err != nil {
		return "", err
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: %d remote locations named %q", ErrAmbiguousMatch, len(found), loc.Name)
	}
	if found[0].ID == "" {
		return "", fmt.Errorf("%w: remote location %q has no id", ErrAmbiguousMatch, loc.Name)
	}

	c.byKey[key] = found[0].ID
	return found[0].ID, nil
}
