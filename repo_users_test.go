package memberauth_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/robokit/member-auth"
)

func setupUsersRepo(t *testing.T) auth.Users {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
		_ = sqldb.Close()
	})

	_, err = db.NewCreateTable().Model((*auth.User)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)

	return auth.NewUsersRepository(db)
}

func TestUsersRegisterDefaults(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{Email: "alice@example.com"})
	require.NoError(t, err)

	assert.Equal(t, auth.RoleUser, created.Role)
	assert.Equal(t, auth.PlanFree, created.Plan)
	assert.True(t, created.IsActive)
	// No explicit name falls back to the email local part.
	assert.Equal(t, "alice", created.Name)
}

func TestUsersGetByIdentifier(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{
		Email: "alice@example.com",
		Phone: "+5511987654321",
	})
	require.NoError(t, err)

	t.Run("by email", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("by phone", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, "+5511987654321")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("by id", func(t *testing.T) {
		got, err := repo.GetByIdentifier(ctx, created.ID.String())
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("unknown identifiers are not found", func(t *testing.T) {
		_, err := repo.GetByIdentifier(ctx, "nobody@example.com")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestUsersPasswordLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{Email: "alice@example.com"})
	require.NoError(t, err)

	methods, err := repo.CheckAuthMethods(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, methods.Exists)
	assert.False(t, methods.HasPassword)

	require.NoError(t, repo.SetPasswordHash(ctx, created.ID, "$2a$10$fakehash"))

	methods, err = repo.CheckAuthMethods(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, methods.HasPassword)

	t.Run("unknown emails read as absent, not as an error", func(t *testing.T) {
		methods, err := repo.CheckAuthMethods(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, methods.Exists)
	})
}

func TestUsersPhoneAndLoginTracking(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{
		Email: "alice@example.com",
		Phone: "+5511987654321",
	})
	require.NoError(t, err)
	assert.False(t, created.PhoneVerified)

	require.NoError(t, repo.MarkPhoneVerified(ctx, created.ID))
	require.NoError(t, repo.TrackSuccessfulLogin(ctx, created))

	got, err := repo.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.True(t, got.PhoneVerified)
	assert.NotNil(t, got.LastLogin)
}

func TestUsersListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		created := base.AddDate(0, 0, i)
		_, err := repo.Register(ctx, &auth.User{Email: email, CreatedAt: &created})
		require.NoError(t, err)
	}

	users, err := repo.ListNewestFirst(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c@example.com", users[0].Email)
	assert.Equal(t, "a@example.com", users[2].Email)
}

func TestUsersUpdateMutable(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{Email: "alice@example.com"})
	require.NoError(t, err)

	t.Run("patches only the provided fields", func(t *testing.T) {
		name := "Alice Prime"
		plan := auth.PlanMaster

		updated, err := repo.UpdateMutable(ctx, created.ID, auth.UserPatch{
			Name: &name,
			Plan: &plan,
		})
		require.NoError(t, err)

		assert.Equal(t, "Alice Prime", updated.Name)
		assert.Equal(t, auth.PlanMaster, updated.Plan)
		assert.Equal(t, "alice@example.com", updated.Email)
		assert.True(t, updated.IsActive)
	})

	t.Run("rejects unknown plans", func(t *testing.T) {
		bogus := "enterprise"
		_, err := repo.UpdateMutable(ctx, created.ID, auth.UserPatch{Plan: &bogus})
		assert.Error(t, err)
		assert.Equal(t, auth.TextCodeValidation, auth.TextCode(err))
	})

	t.Run("an empty patch reads the current row", func(t *testing.T) {
		got, err := repo.UpdateMutable(ctx, created.ID, auth.UserPatch{})
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("deactivation flips the flag", func(t *testing.T) {
		inactive := false
		updated, err := repo.UpdateMutable(ctx, created.ID, auth.UserPatch{IsActive: &inactive})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
	})
}

func TestUsersDeleteByID(t *testing.T) {
	ctx := context.Background()
	repo := setupUsersRepo(t)

	created, err := repo.Register(ctx, &auth.User{Email: "alice@example.com"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByID(ctx, created.ID))

	// Soft delete: the row disappears from every read path.
	_, err = repo.GetByIdentifier(ctx, "alice@example.com")
	assert.True(t, errors.IsNotFound(err))

	users, err := repo.ListNewestFirst(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
