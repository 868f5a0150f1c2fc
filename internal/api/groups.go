package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playsem-core/internal/device"
)

// setMembersRequest is the body of PUT /groups/{id}/members.
type setMembersRequest struct {
	Members []string `json:"members"`
}

// handleListGroups returns every group ordered by id.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.registry.ListGroups()
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleCreateGroup creates a group. Members need not be registered yet.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var g device.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.CreateGroup(r.Context(), &g); err != nil {
		writeGroupError(w, err, "failed to create group")
		return
	}

	created, err := s.registry.GetGroup(g.ID)
	if err != nil {
		writeInternalError(w, "failed to read created group")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.registry.GetGroup(chi.URLParam(r, "id"))
	if err != nil {
		writeGroupError(w, err, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeGroupError(w, err, "failed to delete group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetGroupMembers replaces a group's member list.
func (s *Server) handleSetGroupMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.SetGroupMembers(r.Context(), id, req.Members); err != nil {
		writeGroupError(w, err, "failed to set group members")
		return
	}

	g, err := s.registry.GetGroup(id)
	if err != nil {
		writeGroupError(w, err, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func writeGroupError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrGroupNotFound):
		writeNotFound(w, "group not found")
	case errors.Is(err, device.ErrGroupExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "group already exists")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}
