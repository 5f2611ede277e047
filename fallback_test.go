package memberauth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	auth "github.com/robokit/member-auth"
)

func newFileStore(t *testing.T) *auth.FileFallbackStore {
	t.Helper()
	return auth.NewFileFallbackStore(filepath.Join(t.TempDir(), "fallback", "mirror.json"))
}

func TestFileFallbackStoreAccounts(t *testing.T) {
	t.Run("created accounts round-trip with defaults applied", func(t *testing.T) {
		store := newFileStore(t)

		created, err := store.CreateAccount(auth.FallbackAccount{
			Email:    "alice@example.com",
			Password: "secret",
			Name:     "Alice",
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, auth.RoleUser, created.Role)
		assert.Equal(t, auth.PlanFree, created.Plan)
		assert.False(t, created.CreatedAt.IsZero())

		acct, found, err := store.FindAccount("alice@example.com", "secret")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, created.ID, acct.ID)
	})

	t.Run("a wrong credential does not match", func(t *testing.T) {
		store := newFileStore(t)
		store.CreateAccount(auth.FallbackAccount{Email: "alice@example.com", Password: "secret"})

		_, found, err := store.FindAccount("alice@example.com", "wrong")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("duplicate emails are rejected", func(t *testing.T) {
		store := newFileStore(t)
		_, err := store.CreateAccount(auth.FallbackAccount{Email: "alice@example.com", Password: "a"})
		assert.NoError(t, err)

		_, err = store.CreateAccount(auth.FallbackAccount{Email: "alice@example.com", Password: "b"})
		assert.Error(t, err)

		exists, err := store.AccountExists("alice@example.com")
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("touching a login persists the time", func(t *testing.T) {
		store := newFileStore(t)
		created, _ := store.CreateAccount(auth.FallbackAccount{Email: "alice@example.com", Password: "secret"})

		at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
		assert.NoError(t, store.TouchLogin(created.ID, at))

		acct, found, _ := store.FindAccount("alice@example.com", "secret")
		assert.True(t, found)
		if assert.NotNil(t, acct.LastLogin) {
			assert.True(t, acct.LastLogin.Equal(at))
		}
	})
}

func TestFileFallbackStoreSession(t *testing.T) {
	store := newFileStore(t)

	user, err := store.LoadSession()
	assert.NoError(t, err)
	assert.Nil(t, user)

	saved := &auth.SessionUser{ID: "u1", Email: "alice@example.com", Name: "Alice"}
	assert.NoError(t, store.SaveSession(saved))

	user, err = store.LoadSession()
	assert.NoError(t, err)
	if assert.NotNil(t, user) {
		assert.Equal(t, "u1", user.ID)
	}

	assert.NoError(t, store.ClearSession())
	user, _ = store.LoadSession()
	assert.Nil(t, user)
}

func TestFileFallbackStoreAttempt(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	t.Run("attempts survive a store reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror.json")

		first := auth.NewFileFallbackStore(path).WithClock(func() time.Time { return now })
		assert.NoError(t, first.SaveAttempt(&auth.PendingAttempt{
			Phone:       "+5511987654321",
			AwaitingOTP: true,
			SentAt:      now,
		}))

		second := auth.NewFileFallbackStore(path).WithClock(func() time.Time { return now })
		attempt, err := second.LoadAttempt()
		assert.NoError(t, err)
		if assert.NotNil(t, attempt) {
			assert.Equal(t, "+5511987654321", attempt.Phone)
		}
	})

	t.Run("expired attempts read as absent", func(t *testing.T) {
		current := now
		store := newFileStore(t).WithClock(func() time.Time { return current })

		assert.NoError(t, store.SaveAttempt(&auth.PendingAttempt{
			Phone:       "+5511987654321",
			AwaitingOTP: true,
			SentAt:      now,
		}))

		current = now.Add(auth.PendingAttemptTTL + time.Minute)

		attempt, err := store.LoadAttempt()
		assert.NoError(t, err)
		assert.Nil(t, attempt)
	})
}

func TestFileFallbackStoreCorruptMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.json")
	assert.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := auth.NewFileFallbackStore(path)

	// A corrupt mirror is discarded instead of blocking the flow.
	user, err := store.LoadSession()
	assert.NoError(t, err)
	assert.Nil(t, user)

	_, err = store.CreateAccount(auth.FallbackAccount{Email: "alice@example.com", Password: "secret"})
	assert.NoError(t, err)

	_, found, err := store.FindAccount("alice@example.com", "secret")
	assert.NoError(t, err)
	assert.True(t, found)
}
