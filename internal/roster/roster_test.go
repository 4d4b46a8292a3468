package roster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"verseroom/internal/document"
	"verseroom/internal/store"
)

func newTestRoster(t *testing.T) *Roster {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(store.NewDocStore(s))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	user, err := r.Register(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == "" || user.Role != document.RoleUser {
		t.Fatalf("unexpected new account: %+v", user)
	}
	if user.PasswordHash == "secret123" {
		t.Fatal("password must be stored hashed")
	}

	got, err := r.Authenticate(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong account: %+v", got)
	}

	if _, err := r.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password should fail, got %v", err)
	}
	if _, err := r.Authenticate(ctx, "nobody", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user should fail, got %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, "alice", "pw2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestCreateRoleRules(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	admin := document.Identity{ID: "a", Role: document.RoleAdmin}
	super := document.Identity{ID: "s", Role: document.RoleSuperAdmin}
	user := document.Identity{ID: "u", Role: document.RoleUser}

	if _, err := r.Create(ctx, user, "x1", "pw", document.RoleUser); !errors.Is(err, ErrForbidden) {
		t.Fatalf("plain user must not create accounts, got %v", err)
	}
	if _, err := r.Create(ctx, admin, "x2", "pw", document.RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin must not create admins, got %v", err)
	}
	if _, err := r.Create(ctx, super, "x3", "pw", document.RoleSuperAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("nobody may create super admins, got %v", err)
	}
	if _, err := r.Create(ctx, admin, "x4", "pw", document.RoleUser); err != nil {
		t.Fatalf("admin creating user: %v", err)
	}
	if _, err := r.Create(ctx, super, "x5", "pw", document.RoleAdmin); err != nil {
		t.Fatalf("super admin creating admin: %v", err)
	}
}

func TestSuperAdminIsImmutable(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	created, err := r.EnsureSuperAdmin(ctx, "root", "rootpw")
	if err != nil || !created {
		t.Fatalf("seed super admin: created=%v err=%v", created, err)
	}
	root, err := r.Authenticate(ctx, "root", "rootpw")
	if err != nil {
		t.Fatalf("authenticate root: %v", err)
	}

	super := document.Identity{ID: "other-super", Role: document.RoleSuperAdmin}
	newName := "hacked"
	if _, err := r.Update(ctx, super, root.ID, UpdateRequest{Username: &newName}); !errors.Is(err, ErrImmutableAccount) {
		t.Fatalf("super admin update should be refused, got %v", err)
	}
	if err := r.Delete(ctx, super, root.ID); !errors.Is(err, ErrImmutableAccount) {
		t.Fatalf("super admin delete should be refused, got %v", err)
	}
}

func TestEnsureSuperAdminIsIdempotent(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	created, err := r.EnsureSuperAdmin(ctx, "root", "pw")
	if err != nil || !created {
		t.Fatalf("first seed: created=%v err=%v", created, err)
	}
	created, err = r.EnsureSuperAdmin(ctx, "root", "pw")
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if created {
		t.Fatal("second seed must be a no-op")
	}
}

func TestUpdateRoleRules(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	target, err := r.Register(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	admin := document.Identity{ID: "a", Role: document.RoleAdmin}
	super := document.Identity{ID: "s", Role: document.RoleSuperAdmin}

	roleAdmin := document.RoleAdmin
	if _, err := r.Update(ctx, admin, target.ID, UpdateRequest{Role: &roleAdmin}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin must not grant admin, got %v", err)
	}
	updated, err := r.Update(ctx, super, target.ID, UpdateRequest{Role: &roleAdmin})
	if err != nil {
		t.Fatalf("super admin granting admin: %v", err)
	}
	if updated.Role != document.RoleAdmin {
		t.Fatalf("role not updated: %+v", updated)
	}

	roleSuper := document.RoleSuperAdmin
	if _, err := r.Update(ctx, super, target.ID, UpdateRequest{Role: &roleSuper}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("promotion to super admin must be refused, got %v", err)
	}
}

func TestDeleteRules(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	target, err := r.Register(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	admin := document.Identity{ID: "a", Role: document.RoleAdmin}
	if err := r.Delete(ctx, admin, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self-delete should be refused, got %v", err)
	}
	if err := r.Delete(ctx, admin, target.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, admin, target.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestSanitizeStripsPassword(t *testing.T) {
	u := document.User{ID: "u1", Username: "alice", PasswordHash: "hash", Role: document.RoleUser}
	if got := Sanitize(u); got.PasswordHash != "" {
		t.Fatalf("password hash leaked: %+v", got)
	}
	all := SanitizeAll([]document.User{u, u})
	for _, g := range all {
		if g.PasswordHash != "" {
			t.Fatalf("password hash leaked in slice: %+v", g)
		}
	}
}
