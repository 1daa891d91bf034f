// Package access decides who may act as an operator: the configured
// operator ids plus the store-managed allow-list.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

var (
	// ErrForbidden rejects a caller who is neither operator nor allowed.
	ErrForbidden = errors.New("user is not allowed")

	// ErrInvalid rejects malformed user ids.
	ErrInvalid = errors.New("invalid user")
)

// User is one entry of the allow-list.
type User struct {
	UserID    string    `json:"user_id"`
	IsAdmin   bool      `json:"is_admin"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the allow-list. AddAllowedUser returns false when the
// user was already present; RemoveAllowedUser returns false when absent.
type Store interface {
	AddAllowedUser(ctx context.Context, u *User) (bool, error)
	RemoveAllowedUser(ctx context.Context, userID string) (bool, error)
	ListAllowedUsers(ctx context.Context) ([]*User, error)
	IsAllowedUser(ctx context.Context, userID string) (bool, error)
}

// Checker combines the configured operators with the allow-list.
type Checker struct {
	operators []string
	store     Store
}

// NewChecker creates a Checker. Blank operator ids are dropped.
func NewChecker(operators []string, store Store) *Checker {
	if store == nil {
		panic(xerrors.New("access store is required"))
	}
	ops := make([]string, 0, len(operators))
	for _, o := range operators {
		if o = strings.TrimSpace(o); o != "" && !slices.Contains(ops, o) {
			ops = append(ops, o)
		}
	}
	return &Checker{operators: ops, store: store}
}

// IsOperator reports whether id is a configured operator.
func (c *Checker) IsOperator(id string) bool {
	return slices.Contains(c.operators, id)
}

// Allowed reports whether id is an operator or on the allow-list.
func (c *Checker) Allowed(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if c.IsOperator(id) {
		return true, nil
	}
	return c.store.IsAllowedUser(ctx, id)
}

// IsAdmin reports whether id may manage the allow-list: configured
// operators and allow-listed admins.
func (c *Checker) IsAdmin(ctx context.Context, id string) (bool, error) {
	if c.IsOperator(id) {
		return true, nil
	}
	users, err := c.store.ListAllowedUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.UserID == id {
			return u.IsAdmin, nil
		}
	}
	return false, nil
}

// Recipients returns who receives alert summaries: the configured
// operators, or the allow-list when none are configured.
func (c *Checker) Recipients(ctx context.Context) ([]string, error) {
	if len(c.operators) > 0 {
		return slices.Clone(c.operators), nil
	}
	users, err := c.store.ListAllowedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list allowed users: %w", err)
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out, nil
}

// Add puts userID on the allow-list on behalf of addedBy, who must be an
// admin.
func (c *Checker) Add(ctx context.Context, addedBy, userID string, admin bool, now time.Time) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	if err := c.requireAdmin(ctx, addedBy); err != nil {
		return false, err
	}
	return c.store.AddAllowedUser(ctx, &User{UserID: userID, IsAdmin: admin, AddedBy: addedBy, CreatedAt: now.UTC()})
}

// Remove drops userID from the allow-list on behalf of an admin.
// Configured operators cannot be removed this way.
func (c *Checker) Remove(ctx context.Context, removedBy, userID string) (bool, error) {
	if err := c.requireAdmin(ctx, removedBy); err != nil {
		return false, err
	}
	if c.IsOperator(userID) {
		return false, fmt.Errorf("%w: %s is a configured operator", ErrInvalid, userID)
	}
	return c.store.RemoveAllowedUser(ctx, userID)
}

// List returns the allow-list.
func (c *Checker) List(ctx context.Context) ([]*User, error) {
	return c.store.ListAllowedUsers(ctx)
}

func (c *Checker) requireAdmin(ctx context.Context, id string) error {
	ok, err := c.IsAdmin(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
