package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func listHandler[T any](d *Directory, c *collection[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value := r.URL.Query().Get(c.filter)

		d.mu.Lock()
		d.calls[c.name+".list"]++
		if status := d.fault(value); status != 0 {
			d.mu.Unlock()
			respondFault(w, r, status, value)
			return
		}
		items := c.match(value)
		d.mu.Unlock()

		respondJSON(w, http.StatusOK, provisioning.ListResponse[T]{Items: items})
	}
}

func createHandler[T any](d *Directory, c *collection[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := decodeBody[T](r)
		if err != nil {
			respondError(w, r, err, http.StatusBadRequest, "INVALID_BODY")
			return
		}
		keys := c.keys(item)

		d.mu.Lock()
		defer d.mu.Unlock()

		d.calls[c.name+".create"]++
		if status := d.fault(keys...); status != 0 {
			respondFault(w, r, status, keys[0])
			return
		}
		if !anyKey(keys) {
			respondError(w, r, fmt.Errorf("%s: %s is required", c.name, c.filter), http.StatusBadRequest, "MISSING_KEY")
			return
		}
		for _, k := range keys {
			if k != "" && len(c.match(k)) > 0 {
				respondError(w, r, fmt.Errorf("%s: %q already exists", c.name, k), http.StatusConflict, "CONFLICT")
				return
			}
		}

		created := c.put(c.withID(item, ""))
		respondJSON(w, http.StatusCreated, created)
	}
}

func updateHandler[T any](d *Directory, c *collection[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, err := decodeBody[T](r)
		if err != nil {
			respondError(w, r, err, http.StatusBadRequest, "INVALID_BODY")
			return
		}
		keys := c.keys(item)

		d.mu.Lock()
		defer d.mu.Unlock()

		d.calls[c.name+".update"]++
		if status := d.fault(keys...); status != 0 {
			respondFault(w, r, status, keys[0])
			return
		}
		if _, ok := c.items[id]; !ok {
			respondError(w, r, fmt.Errorf("%s: id %q not found", c.name, id), http.StatusNotFound, "NOT_FOUND")
			return
		}

		updated := c.put(c.withID(item, id))
		respondJSON(w, http.StatusOK, updated)
	}
}

func decodeBody[T any](r *http.Request) (T, error) {
	var item T
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return item, fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return item, fmt.Errorf("decode body: %w", err)
	}
	return item, nil
}

func anyKey(keys []string) bool {
	for _, k := range keys {
		if k != "" {
			return true
		}
	}
	return false
}
