package sandbox

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// collection is one in-memory entity table, kept in creation order.
type collection[T any] struct {
	name   string
	filter string               // list query parameter
	keys   func(T) []string     // natural keys used for filtering and faults
	withID func(T, string) T    // returns a copy carrying the remote id
	getID  func(T) string
	order  []string
	items  map[string]T
}

func (c *collection[T]) match(value string) []T {
	out := make([]T, 0)
	for _, id := range c.order {
		item := c.items[id]
		if value == "" || hasKey(c.keys(item), value) {
			out = append(out, item)
		}
	}
	return out
}

func (c *collection[T]) put(item T) T {
	id := c.getID(item)
	if id == "" {
		id = uuid.NewString()
		item = c.withID(item, id)
	}
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = item
	return item
}

func hasKey(keys []string, value string) bool {
	for _, k := range keys {
		if k != "" && strings.EqualFold(k, value) {
			return true
		}
	}
	return false
}

// Directory is the sandbox's in-memory state. It is safe for concurrent use.
type Directory struct {
	mu         sync.Mutex
	locations  *collection[provisioning.Location]
	people     *collection[provisioning.Person]
	workspaces *collection[provisioning.Workspace]
	faults     map[string]int
	calls      map[string]int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		locations: &collection[provisioning.Location]{
			name:   "locations",
			filter: "name",
			keys:   func(l provisioning.Location) []string { return []string{l.Name} },
			withID: func(l provisioning.Location, id string) provisioning.Location { l.ID = id; return l },
			getID:  func(l provisioning.Location) string { return l.ID },
			items:  make(map[string]provisioning.Location),
		},
		people: &collection[provisioning.Person]{
			name:   "people",
			filter: "email",
			keys:   func(p provisioning.Person) []string { return p.Emails },
			withID: func(p provisioning.Person, id string) provisioning.Person { p.ID = id; return p },
			getID:  func(p provisioning.Person) string { return p.ID },
			items:  make(map[string]provisioning.Person),
		},
		workspaces: &collection[provisioning.Workspace]{
			name:   "workspaces",
			filter: "displayName",
			keys:   func(w provisioning.Workspace) []string { return []string{w.DisplayName} },
			withID: func(w provisioning.Workspace, id string) provisioning.Workspace { w.ID = id; return w },
			getID:  func(w provisioning.Workspace) string { return w.ID },
			items:  make(map[string]provisioning.Workspace),
		},
		faults: make(map[string]int),
		calls:  make(map[string]int),
	}
}

// Fail makes every request touching the natural key answer with status.
// Keys compare case-insensitively.
func (d *Directory) Fail(key string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[strings.ToLower(key)] = status
}

// ClearFaults removes every injected failure.
func (d *Directory) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.faults)
}

// Calls returns how many times each operation ran, keyed like "people.create".
// Requests rejected by an injected fault are counted too.
func (d *Directory) Calls() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.calls))
	for k, v := range d.calls {
		out[k] = v
	}
	return out
}

// SeedLocation stores loc directly, bypassing conflict checks.
func (d *Directory) SeedLocation(loc provisioning.Location) provisioning.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locations.put(loc)
}

// SeedPerson stores p directly, bypassing conflict checks.
func (d *Directory) SeedPerson(p provisioning.Person) provisioning.Person {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.people.put(p)
}

// SeedWorkspace stores w directly, bypassing conflict checks.
func (d *Directory) SeedWorkspace(w provisioning.Workspace) provisioning.Workspace {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workspaces.put(w)
}

// People returns a snapshot of every stored person.
func (d *Directory) People() []provisioning.Person {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.people.match("")
}

// Workspaces returns a snapshot of every stored workspace.
func (d *Directory) Workspaces() []provisioning.Workspace {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workspaces.match("")
}

// Locations returns a snapshot of every stored location.
func (d *Directory) Locations() []provisioning.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locations.match("")
}

// fault returns the injected status for any of keys, or 0. Callers hold mu.
func (d *Directory) fault(keys ...string) int {
	for _, k := range keys {
		if status, ok := d.faults[strings.ToLower(k)]; ok && k != "" {
			return status
		}
	}
	return 0
}
