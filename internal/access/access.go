// Package access holds the authenticated principal and the authorization
// checks layered on top of it.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Skotchmaster/vera/internal/models"
)

var ErrAccessDenied = errors.New("access denied")

// Principal is the identity established by the authentication filter for one request.
type Principal struct {
	UserID uint
	Email  string
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireRole fails unless the principal holds one of roles.
func RequireRole(p Principal, roles ...string) error {
	if slices.Contains(roles, p.Role) {
		return nil
	}
	return fmt.Errorf("%w: requires role %s, caller has %s", ErrAccessDenied, strings.Join(roles, " or "), roleOrNone(p.Role))
}

// RequireSelfOrAdmin lets admins through and otherwise requires the caller to own userID.
func RequireSelfOrAdmin(p Principal, userID uint) error {
	if p.IsAdmin() || (p.UserID != 0 && p.UserID == userID) {
		return nil
	}
	return fmt.Errorf("%w: not the owner of this account", ErrAccessDenied)
}

// RequireSelfOrAdminByEmail is the email-scoped ownership check. Comparison is exact.
func RequireSelfOrAdminByEmail(p Principal, email string) error {
	if p.IsAdmin() || (p.Email != "" && p.Email == email) {
		return nil
	}
	return fmt.Errorf("%w: not the owner of this account", ErrAccessDenied)
}

// Update describes privilege-bearing fields of a user update. Nil means unchanged.
type Update struct {
	IsAdmin *bool
	Role    *string
}

// CheckUpdate guards against role escalation. target is the stored record being updated.
// A non-admin may not make or keep anyone an admin, and may not touch the role of another user.
func CheckUpdate(p Principal, target *models.User, u Update) error {
	if p.IsAdmin() {
		return nil
	}
	if (u.IsAdmin != nil && *u.IsAdmin) || (u.Role != nil && *u.Role == models.RoleAdmin) {
		return fmt.Errorf("%w: only admins can grant admin rights", ErrAccessDenied)
	}
	if target == nil {
		return nil
	}
	if u.Role != nil && target.ID != p.UserID {
		return fmt.Errorf("%w: cannot change another user's role", ErrAccessDenied)
	}
	dropsAdmin := (u.IsAdmin != nil && !*u.IsAdmin) || (u.Role != nil && *u.Role != models.RoleAdmin)
	if target.IsAdmin() && !dropsAdmin {
		return fmt.Errorf("%w: only admins can keep admin rights", ErrAccessDenied)
	}
	return nil
}

func roleOrNone(r string) string {
	if r == "" {
		return "none"
	}
	return r
}
