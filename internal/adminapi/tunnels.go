package adminapi

import (
	"net/http"
	"strings"

	"github.com/agenttunnel/gateway/internal/store"
)

type createTunnelRequest struct {
	Name                 string              `json:"name"`
	Description          string              `json:"description"`
	AllowedMethods       []string            `json:"allowed_methods"`
	AllowedPaths         []string            `json:"allowed_paths"`
	AllowedCommands      []string            `json:"allowed_commands"`
	ForbiddenKeywords    []string            `json:"forbidden_keywords"`
	CommandWhitelistMode store.WhitelistMode `json:"command_whitelist_mode"`
	Pipeline             *store.Pipeline     `json:"pipeline"`
}

// ListTunnels handles GET /orchestrator/tunnels.
func (s *Server) ListTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels := s.tunnels.List()
	writeJSON(w, http.StatusOK, envelope{Data: tunnels, Count: len(tunnels)})
}

// CreateTunnel handles POST /orchestrator/tunnels/create (§4.4, §6.4).
// Unsupplied fields take the defaults named in §4.4:
// allowed_methods=["GET","POST"], command_whitelist_mode="strict", the rest
// empty.
func (s *Server) CreateTunnel(w http.ResponseWriter, r *http.Request) {
	req := createTunnelRequest{
		AllowedMethods:       []string{"GET", "POST"},
		CommandWhitelistMode: store.ModeStrict,
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	t := store.Tunnel{
		Name:                 req.Name,
		Description:          req.Description,
		AllowedMethods:       req.AllowedMethods,
		AllowedPaths:         req.AllowedPaths,
		AllowedCommands:      req.AllowedCommands,
		ForbiddenKeywords:    req.ForbiddenKeywords,
		CommandWhitelistMode: req.CommandWhitelistMode,
		Pipeline:             req.Pipeline,
	}

	if err := s.tunnels.Put(t); err != nil {
		s.log.Error("creating tunnel", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to save tunnel")
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: t})
}

type updateTunnelRequest struct {
	Name                 string               `json:"name"`
	Description          *string              `json:"description"`
	AllowedMethods       []string             `json:"allowed_methods"`
	AllowedPaths         []string             `json:"allowed_paths"`
	AllowedCommands      []string             `json:"allowed_commands"`
	ForbiddenKeywords    []string             `json:"forbidden_keywords"`
	CommandWhitelistMode *store.WhitelistMode `json:"command_whitelist_mode"`
	Pipeline             *store.Pipeline      `json:"pipeline"`
}

// UpdateTunnel handles POST /orchestrator/tunnels/update: a shallow merge
// of whichever keys the caller supplied over the existing tunnel (§4.4).
// Slice fields are replaced wholesale when present in the request, since
// there's no sane element-level merge for an ordered policy list.
func (s *Server) UpdateTunnel(w http.ResponseWriter, r *http.Request) {
	var req updateTunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	t, err := s.tunnels.Get(req.Name)
	if err != nil {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}

	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.AllowedMethods != nil {
		t.AllowedMethods = req.AllowedMethods
	}
	if req.AllowedPaths != nil {
		t.AllowedPaths = req.AllowedPaths
	}
	if req.AllowedCommands != nil {
		t.AllowedCommands = req.AllowedCommands
	}
	if req.ForbiddenKeywords != nil {
		t.ForbiddenKeywords = req.ForbiddenKeywords
	}
	if req.CommandWhitelistMode != nil {
		t.CommandWhitelistMode = *req.CommandWhitelistMode
	}
	if req.Pipeline != nil {
		t.Pipeline = req.Pipeline
	}

	if err := s.tunnels.Put(t); err != nil {
		s.log.Error("updating tunnel", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to save tunnel")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: t})
}

type deleteTunnelRequest struct {
	Name string `json:"name"`
}

// DeleteTunnel handles POST /orchestrator/tunnels/delete.
func (s *Server) DeleteTunnel(w http.ResponseWriter, r *http.Request) {
	var req deleteTunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.tunnels.Delete(req.Name); err != nil {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
