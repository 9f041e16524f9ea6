package http

import (
	"net/http"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/service"
)

// handleCreateUser implements POST /scim/v2/Users.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.users.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", u.Meta.Location)
	writeJSON(w, http.StatusCreated, u)
}

// handleGetUser implements GET /scim/v2/Users/{id}.
func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleListUsers implements GET /scim/v2/Users with an optional filter.
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.users.List(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePatchUser implements PATCH /scim/v2/Users/{id}.
func (h *Handler) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	var patch service.UserPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.users.Patch(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleDeleteUser implements DELETE /scim/v2/Users/{id}.
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateGroup implements POST /scim/v2/Groups.
func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req service.CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.groups.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", g.Meta.Location)
	writeJSON(w, http.StatusCreated, g)
}

// handleGetGroup implements GET /scim/v2/Groups/{id}.
func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleListGroups implements GET /scim/v2/Groups with an optional filter.
func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	resp, err := h.groups.List(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePatchGroup implements PATCH /scim/v2/Groups/{id}.
func (h *Handler) handlePatchGroup(w http.ResponseWriter, r *http.Request) {
	var patch service.GroupPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.groups.Patch(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleDeleteGroup implements DELETE /scim/v2/Groups/{id}.
func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMember implements POST /scim/v2/Groups/{id}/members.
func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var member scim.Member
	if err := decodeJSON(r, &member); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.groups.AddMember(r.Context(), r.PathValue("id"), member)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleRemoveMember implements DELETE /scim/v2/Groups/{id}/members/{userId}.
func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.RemoveMember(r.Context(), r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
