// Package handlers contains the HTTP boundary around the realtime core:
// message mutations, presence, and the internal notify entry points that
// trusted services call after committing a mutation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pulse-server/internal/access"
	"pulse-server/internal/fanout"
	"pulse-server/internal/registry"
	"pulse-server/internal/store"
)

// API bundles the services the boundary handlers dispatch into.
type API struct {
	Store    *store.Store
	Sessions *registry.Registry
	Engine   *fanout.Engine
	Resolver *access.Resolver
}

func NewAPI(s *store.Store, sessions *registry.Registry, engine *fanout.Engine, resolver *access.Resolver) *API {
	return &API{Store: s, Sessions: sessions, Engine: engine, Resolver: resolver}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps record-store failures onto the error taxonomy:
// missing rows are 404, an unavailable store is a retryable 503.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	}
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
