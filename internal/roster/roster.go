// Package roster manages the persisted user accounts and the role rules that
// govern who may manage whom.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"verseroom/internal/auth"
	"verseroom/internal/document"
	"verseroom/internal/store"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrForbidden          = errors.New("operation not permitted for this role")
	ErrImmutableAccount   = errors.New("super admin account cannot be modified")
)

type Roster struct {
	docs *store.DocStore
}

func New(docs *store.DocStore) *Roster {
	return &Roster{docs: docs}
}

// Register creates a self-service account. New registrations always get the
// USER role.
func (r *Roster) Register(ctx context.Context, username, password string) (document.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return document.User{}, fmt.Errorf("username and password are required")
	}
	return r.create(ctx, username, password, document.RoleUser)
}

// Authenticate checks the credentials and returns the stored account.
func (r *Roster) Authenticate(ctx context.Context, username, password string) (document.User, error) {
	var found document.User
	err := r.docs.View(ctx, func(doc document.Document) error {
		for _, u := range doc.Users {
			if u.Username == username {
				found = u
				return nil
			}
		}
		return ErrInvalidCredentials
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return document.User{}, err
		}
		return document.User{}, fmt.Errorf("roster unavailable: %w", err)
	}
	if !auth.CheckPassword(found.PasswordHash, password) {
		return document.User{}, ErrInvalidCredentials
	}
	return found, nil
}

// Get returns one account by id.
func (r *Roster) Get(ctx context.Context, id string) (document.User, error) {
	var found document.User
	err := r.docs.View(ctx, func(doc document.Document) error {
		for _, u := range doc.Users {
			if u.ID == id {
				found = u
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return document.User{}, err
		}
		return document.User{}, fmt.Errorf("roster unavailable: %w", err)
	}
	return found, nil
}

// List returns every account in creation order.
func (r *Roster) List(ctx context.Context) ([]document.User, error) {
	var out []document.User
	err := r.docs.View(ctx, func(doc document.Document) error {
		out = append([]document.User{}, doc.Users...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("roster unavailable: %w", err)
	}
	return out, nil
}

// Create adds an account on behalf of an administrator. An ADMIN may only
// create USER accounts; nobody may create a SUPER_ADMIN.
func (r *Roster) Create(ctx context.Context, actor document.Identity, username, password string, role document.Role) (document.User, error) {
	if actor.Role != document.RoleAdmin && actor.Role != document.RoleSuperAdmin {
		return document.User{}, ErrForbidden
	}
	if role == "" {
		role = document.RoleUser
	}
	if role == document.RoleSuperAdmin {
		return document.User{}, ErrForbidden
	}
	if role == document.RoleAdmin && actor.Role != document.RoleSuperAdmin {
		return document.User{}, ErrForbidden
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return document.User{}, fmt.Errorf("username and password are required")
	}
	return r.create(ctx, username, password, role)
}

// UpdateRequest carries the optional account fields to change. Nil fields are
// left untouched.
type UpdateRequest struct {
	Username *string
	Password *string
	Role     *document.Role
}

// Update modifies an account. SUPER_ADMIN accounts are immutable, no account
// may be promoted to SUPER_ADMIN, and only a SUPER_ADMIN may grant ADMIN.
func (r *Roster) Update(ctx context.Context, actor document.Identity, id string, req UpdateRequest) (document.User, error) {
	if actor.Role != document.RoleAdmin && actor.Role != document.RoleSuperAdmin {
		return document.User{}, ErrForbidden
	}
	if req.Role != nil {
		if *req.Role == document.RoleSuperAdmin {
			return document.User{}, ErrForbidden
		}
		if *req.Role == document.RoleAdmin && actor.Role != document.RoleSuperAdmin {
			return document.User{}, ErrForbidden
		}
	}

	var hash string
	if req.Password != nil && *req.Password != "" {
		var err error
		hash, err = auth.HashPassword(*req.Password)
		if err != nil {
			return document.User{}, err
		}
	}

	var updated document.User
	err := r.docs.Update(ctx, func(doc *document.Document) error {
		idx := -1
		for i, u := range doc.Users {
			if u.ID == id {
				idx = i
			}
			if req.Username != nil && u.Username == *req.Username && u.ID != id {
				return ErrUsernameTaken
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		if doc.Users[idx].Role == document.RoleSuperAdmin {
			return ErrImmutableAccount
		}
		if req.Username != nil && strings.TrimSpace(*req.Username) != "" {
			doc.Users[idx].Username = strings.TrimSpace(*req.Username)
		}
		if hash != "" {
			doc.Users[idx].PasswordHash = hash
		}
		if req.Role != nil {
			doc.Users[idx].Role = *req.Role
		}
		updated = doc.Users[idx]
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrImmutableAccount):
			return document.User{}, err
		}
		return document.User{}, fmt.Errorf("roster unavailable: %w", err)
	}
	return updated, nil
}

// Delete removes an account. SUPER_ADMIN accounts cannot be deleted, and an
// administrator cannot delete themselves.
func (r *Roster) Delete(ctx context.Context, actor document.Identity, id string) error {
	if actor.Role != document.RoleAdmin && actor.Role != document.RoleSuperAdmin {
		return ErrForbidden
	}
	if actor.ID == id {
		return ErrForbidden
	}

	err := r.docs.Update(ctx, func(doc *document.Document) error {
		for i, u := range doc.Users {
			if u.ID != id {
				continue
			}
			if u.Role == document.RoleSuperAdmin {
				return ErrImmutableAccount
			}
			doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrImmutableAccount):
			return err
		}
		return fmt.Errorf("roster unavailable: %w", err)
	}
	return nil
}

// EnsureSuperAdmin seeds the SUPER_ADMIN account on first start. It is a
// no-op when any SUPER_ADMIN already exists or when no password is configured.
func (r *Roster) EnsureSuperAdmin(ctx context.Context, username, password string) (created bool, err error) {
	if username == "" || password == "" {
		return false, nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}

	err = r.docs.Update(ctx, func(doc *document.Document) error {
		for _, u := range doc.Users {
			if u.Role == document.RoleSuperAdmin {
				return nil
			}
			if u.Username == username {
				return ErrUsernameTaken
			}
		}
		doc.Users = append(doc.Users, document.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: hash,
			Role:         document.RoleSuperAdmin,
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		})
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return false, err
		}
		return false, fmt.Errorf("roster unavailable: %w", err)
	}
	return created, nil
}

func (r *Roster) create(ctx context.Context, username, password string, role document.Role) (document.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return document.User{}, err
	}
	user := document.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	err = r.docs.Update(ctx, func(doc *document.Document) error {
		for _, u := range doc.Users {
			if u.Username == username {
				return ErrUsernameTaken
			}
		}
		doc.Users = append(doc.Users, user)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return document.User{}, err
		}
		return document.User{}, fmt.Errorf("roster unavailable: %w", err)
	}
	return user, nil
}

// Sanitize strips the password hash before an account leaves the server.
func Sanitize(u document.User) document.User {
	u.PasswordHash = ""
	return u
}

// SanitizeAll strips password hashes from a slice of accounts.
func SanitizeAll(users []document.User) []document.User {
	out := make([]document.User, 0, len(users))
	for _, u := range users {
		out = append(out, Sanitize(u))
	}
	return out
}
