package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/btouchard/pulse/internal/auth"
	"github.com/btouchard/pulse/internal/permission"
	"github.com/btouchard/pulse/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
}

// Login exchanges email and password for an access token.
// Accepts either a form (username, password) or the same fields as JSON.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil || creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	u, err := h.store.GetUserByEmail(creds.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		internalError(w, "loading user", err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, creds.Password) {
		slog.Info("login failed", "email", creds.Username)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if !u.Active {
		writeError(w, http.StatusForbidden, "inactive_user", "account is disabled")
		return
	}

	roleSlug := h.roleSlug(u.RoleID)
	token, exp, err := h.tokens.Issue(u.ID, u.Email, roleSlug)
	if err != nil {
		internalError(w, "issuing token", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   exp.UTC(),
		Role:        roleSlug,
		Name:        u.Name,
		Email:       u.Email,
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Register creates an account. The first account gets the admin role, later
// ones the sales role.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || !strings.Contains(req.Email, "@") || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request", "name, a valid email and a password of at least 8 characters are required")
		return
	}

	if _, err := h.store.GetUserByEmail(req.Email); err == nil {
		writeError(w, http.StatusBadRequest, "email_taken", "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		internalError(w, "loading user", err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, "hashing password", err)
		return
	}
	u := &store.UserRecord{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Active:       true,
	}
	role, err := h.store.RegisterUser(u, permission.RoleAdmin, permission.RoleSales)
	if err != nil {
		internalError(w, "creating user", err)
		return
	}

	slog.Info("user registered", "user_id", u.ID, "role", role.Slug)
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     role.Slug,
		IsActive: u.Active,
	})
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, userResponse{
		ID:       id.UserID,
		Name:     id.Name,
		Email:    id.Email,
		Role:     id.Role.Slug,
		IsActive: true,
	})
}

func (h *Handler) roleSlug(roleID int64) string {
	if roleID == 0 {
		return ""
	}
	role, err := h.store.GetRole(roleID)
	if err != nil {
		return ""
	}
	return role.Slug
}

func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&c)
		return c, err
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.PostForm.Get("username")
	c.Password = r.PostForm.Get("password")
	return c, nil
}
