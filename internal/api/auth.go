package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linkvault/linkvault/internal/identity"
	"github.com/linkvault/linkvault/internal/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		IsActive: u.IsActive,
	}
}

// HandleRegister creates a new user account.
// POST /api/auth/register
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		WriteBadRequest(w, ReasonMissingField, "username, email, and password are required")
		return
	}

	user, err := h.Auth.Register(r.Context(), h.Users, req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrWeakPassword):
		WriteBadRequest(w, ReasonWeakPassword, err.Error())
		return
	case errors.Is(err, identity.ErrUserExists):
		WriteError(w, http.StatusConflict, ReasonUserExists, "username or email already registered")
		return
	case err != nil:
		h.Logger.Error("registration failed", "username", req.Username, "error", err)
		WriteInternalError(w, "registration failed")
		return
	}

	h.Logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	WriteJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleLogin authenticates a user and issues an access token.
// POST /api/auth/login
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteBadRequest(w, ReasonMissingField, "username and password are required")
		return
	}

	user, err := h.Auth.Authenticate(r.Context(), h.Users, req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		WriteUnauthorized(w, ReasonInvalidCredentials, "invalid username or password")
		return
	case errors.Is(err, identity.ErrUserInactive):
		WriteUnauthorized(w, ReasonUserInactive, "user account is inactive")
		return
	case err != nil:
		h.Logger.Error("login failed", "username", req.Username, "error", err)
		WriteInternalError(w, "login failed")
		return
	}

	token, err := h.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.Logger.Error("token issuance failed", "user_id", user.ID, "error", err)
		WriteInternalError(w, "login failed")
		return
	}

	h.Logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.Tokens.TTL().Seconds()),
	})
}

// HandleMe returns the authenticated user's profile.
// GET /api/auth/me
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteUnauthorized(w, ReasonUnauthenticated, "user no longer exists")
			return
		}
		h.Logger.Error("failed to load user", "user_id", userID, "error", err)
		WriteInternalError(w, "failed to load user")
		return
	}

	WriteJSON(w, http.StatusOK, toUserResponse(user))
}
