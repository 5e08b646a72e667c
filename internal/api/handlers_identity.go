package api

import (
	"net"
	"net/http"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/identity"
)

func (h *handler) login(r *http.Request, _ int64) (int, any, error) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	res, err := h.svc.Identity.VerifyLogin(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, res, nil
}

// changePassword only ever acts on the caller's own account.
func (h *handler) changePassword(r *http.Request, actor int64) (int, any, error) {
	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if err := h.svc.Identity.ChangePassword(r.Context(), actor, req.OldPassword, req.NewPassword); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, nil
}

func (h *handler) listUsers(r *http.Request, actor int64) (int, any, error) {
	var role *access.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, ok := access.ParseRole(raw)
		if !ok {
			return 0, nil, identity.ErrInvalidRole
		}
		role = &parsed
	}
	users, err := h.svc.Identity.ListUsers(r.Context(), role, actor)
	if err != nil {
		return 0, nil, err
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return http.StatusOK, out, nil
}

func (h *handler) createUser(r *http.Request, actor int64) (int, any, error) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	u, err := h.svc.Identity.CreateUser(r.Context(), req.Username, req.Password, access.Role(req.Role), actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, toUserResponse(u), nil
}

func (h *handler) getUser(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	u, err := h.svc.Identity.GetUser(r.Context(), id, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toUserResponse(u), nil
}

func (h *handler) deactivateUser(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, h.svc.Identity.DeactivateUser(r.Context(), id, actor)
}

func (h *handler) reactivateUser(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, h.svc.Identity.ReactivateUser(r.Context(), id, actor)
}

func (h *handler) assignRole(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req AssignRoleRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, h.svc.Identity.AssignRole(r.Context(), id, access.Role(req.Role), actor)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
