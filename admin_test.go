package memberauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	auth "github.com/robokit/member-auth"
)

// stubUsers embeds the Users interface so each test only overrides the
// methods it exercises.
type stubUsers struct {
	auth.Users

	users   []*auth.User
	listErr error

	registered *auth.User
	updated    *auth.User
	deletedID  uuid.UUID
}

func (s *stubUsers) ListNewestFirst(ctx context.Context) ([]*auth.User, error) {
	return s.users, s.listErr
}

func (s *stubUsers) Register(ctx context.Context, record *auth.User) (*auth.User, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	s.registered = record
	return record, nil
}

func (s *stubUsers) UpdateMutable(ctx context.Context, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	u := &auth.User{ID: id}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Plan != nil {
		u.Plan = *patch.Plan
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	s.updated = u
	return u, nil
}

func (s *stubUsers) DeleteByID(ctx context.Context, id uuid.UUID) error {
	s.deletedID = id
	return nil
}

func adminActor() *auth.SessionUser {
	return &auth.SessionUser{ID: uuid.NewString(), Role: auth.RoleAdmin, Name: "Root"}
}

func TestAdminServiceAuthorization(t *testing.T) {
	ctx := context.Background()
	svc := auth.NewAdminService(&stubUsers{})

	t.Run("anonymous callers are refused", func(t *testing.T) {
		_, err := svc.List(ctx, nil)
		assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

		_, err = svc.Stats(ctx, nil)
		assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	})

	t.Run("regular members are refused", func(t *testing.T) {
		member := &auth.SessionUser{ID: "u1", Role: auth.RoleUser}

		_, err := svc.List(ctx, member)
		assert.ErrorIs(t, err, auth.ErrAdminRequired)

		err = svc.Delete(ctx, member, uuid.New())
		assert.ErrorIs(t, err, auth.ErrAdminRequired)
	})
}

func TestAdminServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an email or a phone", func(t *testing.T) {
		svc := auth.NewAdminService(&stubUsers{})

		_, err := svc.Create(ctx, adminActor(), &auth.User{Name: "No Contact"})
		assert.Error(t, err)
		assert.Equal(t, auth.TextCodeValidation, auth.TextCode(err))
	})

	t.Run("registers and records the acting admin", func(t *testing.T) {
		users := &stubUsers{}
		sink := &recordingSink{}
		svc := auth.NewAdminService(users, auth.AdminWithActivitySink(sink))

		created, err := svc.Create(ctx, adminActor(), &auth.User{Email: "new@example.com"})
		assert.NoError(t, err)
		assert.NotNil(t, users.registered)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Contains(t, sink.types(), auth.ActivityEventRegisterSuccess)
	})
}

func TestAdminServiceUpdate(t *testing.T) {
	ctx := context.Background()

	users := &stubUsers{}
	sink := &recordingSink{}
	svc := auth.NewAdminService(users, auth.AdminWithActivitySink(sink))

	inactive := false
	plan := auth.PlanMaster
	id := uuid.New()

	updated, err := svc.Update(ctx, adminActor(), id, auth.UserPatch{
		Plan:     &plan,
		IsActive: &inactive,
	})

	assert.NoError(t, err)
	assert.Equal(t, auth.PlanMaster, updated.Plan)
	assert.False(t, updated.IsActive)
	assert.Contains(t, sink.types(), auth.ActivityEventUserStatusChange)
}

func TestAdminServiceDelete(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{}
	svc := auth.NewAdminService(users)

	t.Run("admins cannot delete themselves", func(t *testing.T) {
		actor := adminActor()
		err := svc.Delete(ctx, actor, uuid.MustParse(actor.ID))
		assert.Error(t, err)
		assert.Equal(t, auth.TextCodeValidation, auth.TextCode(err))
		assert.Equal(t, uuid.Nil, users.deletedID)
	})

	t.Run("other members can be removed", func(t *testing.T) {
		target := uuid.New()
		assert.NoError(t, svc.Delete(ctx, adminActor(), target))
		assert.Equal(t, target, users.deletedID)
	})
}

func TestAdminServiceAggregates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	users := &stubUsers{users: []*auth.User{
		memberAt(auth.PlanPro, now.AddDate(0, 0, -2)),
		memberAt(auth.PlanFree, now.AddDate(0, 0, -2)),
		memberAt(auth.PlanMaster, now.AddDate(0, -1, 0)),
	}}
	svc := auth.NewAdminService(users, auth.AdminWithClock(func() time.Time { return now }))

	actor := adminActor()

	stats, err := svc.Stats(ctx, actor)
	assert.NoError(t, err)
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 2, stats.PaidUsers)
	assert.Equal(t, 97+197, stats.EstimatedRevenue)

	points, err := svc.Activity(ctx, actor)
	assert.NoError(t, err)
	assert.Len(t, points, 30)

	buckets, err := svc.Plans(ctx, actor)
	assert.NoError(t, err)
	assert.Len(t, buckets, 3)
}
