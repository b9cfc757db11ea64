package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/models"
	"mestredb/api/internal/ratelimit"
)

func TestDeleteLifecycle(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "a@x.com", "password-1")

	require.NoError(t, f.users.Delete(ctx, u.ID, u.ID), "self soft-delete is allowed")
	assert.ErrorIs(t, f.users.Delete(ctx, 0, u.ID), ErrAlreadyDeleted)
	assert.ErrorIs(t, f.users.Delete(ctx, 0, 999), ErrNotFound)

	_, err := f.users.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	restored, err := f.users.Restore(ctx, 0, u.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	_, err = f.users.Restore(ctx, 0, u.ID)
	assert.ErrorIs(t, err, ErrNotDeleted)
	_, err = f.users.Restore(ctx, 0, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	types := f.events.types()
	assert.Contains(t, types, audit.UserDeleted)
	assert.Contains(t, types, audit.UserRestored)
}

func TestRestoreConflictsWhenEmailReused(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	a := f.createUser(t, "a@x.com", "password-1")
	require.NoError(t, f.users.Delete(ctx, 0, a.ID))

	_, err := f.repo.FindByEmail(ctx, "a@x.com")
	require.Error(t, err)

	b := f.createUser(t, "a@x.com", "password-2")
	assert.NotEqual(t, a.ID, b.ID)

	_, err = f.users.Restore(ctx, 0, a.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// Once the new holder is gone the original can come back.
	require.NoError(t, f.users.Delete(ctx, 0, b.ID))
	_, err = f.users.Restore(ctx, 0, a.ID)
	assert.NoError(t, err)
}

func TestHardDelete(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	admin := f.createUser(t, "admin@x.com", "password-1")
	active := f.createUser(t, "active@x.com", "password-1")
	deleted := f.createUser(t, "deleted@x.com", "password-1")
	require.NoError(t, f.users.Delete(ctx, admin.ID, deleted.ID))

	require.NoError(t, f.users.HardDelete(ctx, active.ID, admin.ID))
	require.NoError(t, f.users.HardDelete(ctx, deleted.ID, admin.ID))

	for _, id := range []int64{active.ID, deleted.ID} {
		_, err := f.repo.FindByIDWithDeleted(ctx, id)
		assert.Error(t, err)
		_, err = f.users.Restore(ctx, admin.ID, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, f.users.HardDelete(ctx, id, admin.ID), ErrNotFound)
	}
	assert.Contains(t, f.events.types(), audit.UserPurged)
}

func TestHardDeleteSelfIsAlwaysForbidden(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "me@x.com", "password-1")

	assert.ErrorIs(t, f.users.HardDelete(ctx, u.ID, u.ID), ErrForbidden)

	require.NoError(t, f.users.Delete(ctx, u.ID, u.ID))
	assert.ErrorIs(t, f.users.HardDelete(ctx, u.ID, u.ID), ErrForbidden)

	assert.ErrorIs(t, f.users.HardDelete(ctx, 404, 404), ErrForbidden)
}

func TestGetByIDUpdatesLastAccess(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "a@x.com", "password-1")

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), got.LastAccess)

	stored, err := f.repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastAccess)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	a := f.createUser(t, "a@x.com", "password-1")
	f.createUser(t, "b@x.com", "password-1")

	name := "New Name"
	email := " A2@X.com "
	password := "another-password"
	admin := true
	updated, err := f.users.Update(ctx, 0, a.ID, UpdateUserInput{Name: &name, Email: &email, Password: &password, IsSuperuser: &admin})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "a2@x.com", updated.Email)
	assert.True(t, updated.IsSuperuser)
	assert.True(t, updated.UpdatedAt.After(a.UpdatedAt))

	_, err = f.auth.Login(ctx, LoginInput{Email: "a2@x.com", Password: "another-password"})
	assert.NoError(t, err)

	taken := "b@x.com"
	_, err = f.users.Update(ctx, 0, a.ID, UpdateUserInput{Email: &taken})
	assert.ErrorIs(t, err, ErrConflict)

	bad := "x"
	_, err = f.users.Update(ctx, 0, a.ID, UpdateUserInput{Name: &bad})
	assert.ErrorIs(t, err, ErrBadRequest)

	require.NoError(t, f.users.Delete(ctx, 0, a.ID))
	_, err = f.users.Update(ctx, 0, a.ID, UpdateUserInput{Name: &name})
	assert.ErrorIs(t, err, ErrAccountDisabled)

	_, err = f.users.Update(ctx, 0, 999, UpdateUserInput{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProfileCannotEscalate(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "a@x.com", "password-1")

	admin := true
	name := "Still Regular"
	got, err := f.users.UpdateProfile(ctx, u.ID, UpdateUserInput{Name: &name, IsSuperuser: &admin})
	require.NoError(t, err)
	assert.False(t, got.IsSuperuser)
	assert.Equal(t, "Still Regular", got.Name)
}

func TestListActiveAndDeleted(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 12; i++ {
		u := f.createUser(t, fmt.Sprintf("user%02d@x.com", i), "password-1")
		ids = append(ids, u.ID)
	}
	for _, id := range ids[:3] {
		require.NoError(t, f.users.Delete(ctx, 0, id))
	}

	page, err := f.users.ListActive(ctx, models.PageParams{Page: 1, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 9, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 5)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	for _, u := range page.Items {
		assert.Nil(t, u.DeletedAt)
	}

	second, err := f.users.ListActive(ctx, models.PageParams{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, second.Items, 4)
	assert.False(t, second.HasNext)

	deleted, err := f.users.ListDeleted(ctx, models.PageParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, deleted.Total)
	assert.Equal(t, 10, deleted.Limit)
	for _, u := range deleted.Items {
		assert.NotNil(t, u.DeletedAt)
	}

	capped, err := f.users.ListActive(ctx, models.PageParams{Page: 1, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, models.MaxLimit, capped.Limit)
}

func TestEnsureSuperuserIsIdempotent(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	in := CreateUserInput{Name: "Admin", Email: "root@x.com", Password: "bootstrap-pass"}

	created, err := f.users.EnsureSuperuser(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.users.EnsureSuperuser(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)

	u, err := f.repo.FindByEmail(ctx, "root@x.com")
	require.NoError(t, err)
	assert.True(t, u.IsSuperuser)
}

func TestUserService_InfrastructureErrors(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	svc := NewUserService(brokenRepo{err: errors.New("db down")}, f.hasher, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.GetByID(ctx, 1)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, svc.Delete(ctx, 0, 1), ErrInternal)
	_, err = svc.Restore(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, svc.HardDelete(ctx, 1, 2), ErrInternal)
	_, err = svc.ListActive(ctx, models.PageParams{})
	assert.ErrorIs(t, err, ErrInternal)
	_, err = svc.Create(ctx, 0, CreateUserInput{Name: "Ana", Email: "a@x.com", Password: "password-1"})
	assert.ErrorIs(t, err, ErrInternal)
}
