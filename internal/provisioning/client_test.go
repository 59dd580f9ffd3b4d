package provisioning_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provisioner/internal/provisioning"
	"github.com/JonMunkholm/provisioner/internal/reason"
	"github.com/JonMunkholm/provisioner/internal/sandbox"
)

const token = "secret-token"

func newClient(t *testing.T, baseURL, tok string, retries int) *provisioning.Client {
	t.Helper()
	c, err := provisioning.NewClient(provisioning.ClientConfig{
		BaseURL:      baseURL,
		Token:        tok,
		Timeout:      5 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func newSandbox(t *testing.T) (*sandbox.Directory, string) {
	t.Helper()
	dir := sandbox.NewDirectory()
	srv := httptest.NewServer(sandbox.NewServer(dir, token).Router())
	t.Cleanup(srv.Close)
	return dir, srv.URL
}

// ==============================================================================
// Construction
// ==============================================================================

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  provisioning.ClientConfig
	}{
		{"relative url", provisioning.ClientConfig{BaseURL: "api.example.com", Token: "t"}},
		{"empty url", provisioning.ClientConfig{Token: "t"}},
		{"empty token", provisioning.ClientConfig{BaseURL: "https://api.example.com", Token: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provisioning.NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

// ==============================================================================
// Round trips against the sandbox
// ==============================================================================

func TestClient_PeopleRoundTrip(t *testing.T) {
	dir, url := newSandbox(t)
	c := newClient(t, url+"/", token, 0)
	ctx := context.Background()

	found, err := c.ListPeople(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Empty(t, found)

	created, err := c.CreatePerson(ctx, provisioning.Person{
		Emails:   []string{"ana@example.com"},
		Licenses: []string{"lic-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	found, err = c.ListPeople(ctx, "ANA@example.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	err = c.UpdatePerson(ctx, created.ID, provisioning.Person{
		Emails:      []string{"ana@example.com"},
		DisplayName: "Ana Lima",
		Licenses:    []string{},
	})
	require.NoError(t, err)

	people := dir.People()
	require.Len(t, people, 1)
	assert.Equal(t, "Ana Lima", people[0].DisplayName)
}

func TestClient_LocationsAndWorkspaces(t *testing.T) {
	dir, url := newSandbox(t)
	c := newClient(t, url, token, 0)
	ctx := context.Background()

	loc, err := c.CreateLocation(ctx, provisioning.Location{Name: "HQ"})
	require.NoError(t, err)
	require.NoError(t, c.UpdateLocation(ctx, loc.ID, provisioning.Location{Name: "HQ", TimeZone: "UTC"}))

	ws, err := c.CreateWorkspace(ctx, provisioning.Workspace{DisplayName: "Lobby", LocationID: loc.ID, Licenses: []string{}})
	require.NoError(t, err)
	require.NoError(t, c.UpdateWorkspace(ctx, ws.ID, provisioning.Workspace{DisplayName: "Lobby", Capacity: 6, Licenses: []string{}}))

	locs, err := c.ListLocations(ctx, "HQ")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "UTC", locs[0].TimeZone)

	spaces, err := c.ListWorkspaces(ctx, "Lobby")
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, 6, spaces[0].Capacity)
	assert.Len(t, dir.Workspaces(), 1)
}

func TestClient_UpdateUnknownID(t *testing.T) {
	_, url := newSandbox(t)
	c := newClient(t, url, token, 2)

	err := c.UpdatePerson(context.Background(), "missing", provisioning.Person{Emails: []string{"x@example.com"}})

	var apiErr *provisioning.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "NOT_FOUND")
	assert.Equal(t, reason.NonRetryableExternal, reason.MapError(err).Code)
}

// ==============================================================================
// Retry policy
// ==============================================================================

func TestClient_RetriesGETThenReturnsAPIError(t *testing.T) {
	dir, url := newSandbox(t)
	dir.Fail("ana@example.com", http.StatusServiceUnavailable)
	c := newClient(t, url, token, 2)

	_, err := c.ListPeople(context.Background(), "ana@example.com")

	var apiErr *provisioning.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPStatus())
	assert.Equal(t, 3, dir.Calls()["people.list"])

	info := reason.MapError(err)
	assert.Equal(t, reason.RetryExhausted, info.Code)
	assert.True(t, info.Retryable())
}

func TestClient_RetryRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"loc-1","name":"HQ"}]}`))
	}))
	t.Cleanup(srv.Close)

	locs, err := newClient(t, srv.URL, token, 3).ListLocations(context.Background(), "HQ")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "loc-1", locs[0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DoesNotRetryPOST(t *testing.T) {
	dir, url := newSandbox(t)
	dir.Fail("ana@example.com", http.StatusInternalServerError)
	c := newClient(t, url, token, 3)

	_, err := c.CreatePerson(context.Background(), provisioning.Person{Emails: []string{"ana@example.com"}})

	var apiErr *provisioning.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, dir.Calls()["people.create"])
}

func TestClient_DoesNotRetry4xx(t *testing.T) {
	dir, url := newSandbox(t)
	dir.Fail("HQ", http.StatusTooManyRequests)
	c := newClient(t, url, token, 3)

	_, err := c.ListLocations(context.Background(), "HQ")
	require.Error(t, err)
	assert.Equal(t, 1, dir.Calls()["locations.list"])
	assert.Equal(t, reason.NonRetryableExternal, reason.MapError(err).Code)
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url, token, 1).ListPeople(context.Background(), "ana@example.com")
	require.Error(t, err)
	assert.Equal(t, reason.RetryExhausted, reason.MapError(err).Code)
}

func TestClient_CancelledDuringBackoff(t *testing.T) {
	dir, url := newSandbox(t)
	dir.Fail("ana@example.com", http.StatusServiceUnavailable)

	c, err := provisioning.NewClient(provisioning.ClientConfig{
		BaseURL:      url,
		Token:        token,
		Timeout:      5 * time.Second,
		MaxRetries:   5,
		RetryBackoff: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.ListPeople(ctx, "ana@example.com")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, dir.Calls()["people.list"])
}

// ==============================================================================
// Auth and decoding
// ==============================================================================

func TestClient_WrongToken(t *testing.T) {
	_, url := newSandbox(t)
	c := newClient(t, url, "not-the-token", 3)

	_, err := c.ListPeople(context.Background(), "ana@example.com")

	var apiErr *provisioning.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, reason.PermissionDenied, reason.MapError(err).Code)
}

func TestClient_SendsBearerToken(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL, token, 0).ListWorkspaces(context.Background(), "Lobby")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, <-auth)
}

func TestClient_UndecodableResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			_, err := newClient(t, srv.URL, token, 0).CreateLocation(context.Background(), provisioning.Location{Name: "HQ"})
			require.True(t, errors.Is(err, reason.ErrInvalidResponse), "err = %v", err)

			info := reason.MapError(err)
			assert.Equal(t, reason.InvalidResponseSchema, info.Code)
			assert.False(t, info.Retryable())
		})
	}
}
