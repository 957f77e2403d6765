package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/btouchard/pulse/internal/permission"
	"github.com/btouchard/pulse/internal/store"
)

var (
	// ErrUnknownUser is returned when a valid token names no existing user.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInactiveUser is returned when the token's user has been deactivated.
	ErrInactiveUser = errors.New("inactive user")
)

// UserLookup is the slice of the store the resolver needs.
type UserLookup interface {
	GetUserByEmail(email string) (*store.UserRecord, error)
	GetRole(id int64) (*store.RoleRecord, error)
}

// Identity is an authenticated ERP user.
type Identity struct {
	UserID int64
	Email  string
	Name   string
	Role   permission.Role
}

// Can reports whether the identity's role grants capability.
func (id *Identity) Can(capability string) bool {
	return permission.Can(id.Role, capability)
}

// Resolver turns a bearer credential into a user identity.
type Resolver struct {
	tokens *TokenIssuer
	users  UserLookup
}

// NewResolver creates a Resolver.
func NewResolver(tokens *TokenIssuer, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Authenticate verifies token and loads the user it names.
func (r *Resolver) Authenticate(_ context.Context, token string) (*Identity, error) {
	claims, err := r.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	u, err := r.users.GetUserByEmail(claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, claims.Subject)
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactiveUser, claims.Subject)
	}

	id := &Identity{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
	}

	if u.RoleID != 0 {
		role, err := r.users.GetRole(u.RoleID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up role: %w", err)
		}
		if role != nil {
			id.Role = permission.Role{Slug: role.Slug, Name: role.Name, Permissions: role.Permissions}
		}
	}

	return id, nil
}

// ResolveUser returns only the user id behind token.
func (r *Resolver) ResolveUser(ctx context.Context, token string) (int64, error) {
	id, err := r.Authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	return id.UserID, nil
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
