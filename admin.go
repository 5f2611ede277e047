package memberauth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ErrAdminRequired rejects admin operations invoked without an admin
// actor.
var ErrAdminRequired = goerrors.New("operation requires an admin role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeForbidden)

// AdminService is the management surface over the member directory.
// Every operation takes the acting identity and refuses non-admins.
type AdminService struct {
	users    Users
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

type AdminOption func(*AdminService)

func AdminWithLogger(logger Logger) AdminOption {
	return func(a *AdminService) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func AdminWithActivitySink(sink ActivitySink) AdminOption {
	return func(a *AdminService) {
		a.activity = normalizeActivitySink(sink)
	}
}

func AdminWithClock(now func() time.Time) AdminOption {
	return func(a *AdminService) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAdminService(users Users, opts ...AdminOption) *AdminService {
	a := &AdminService{
		users:    users,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AdminService) authorize(actor *SessionUser) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	if actor.Role != RoleAdmin {
		return ErrAdminRequired
	}
	return nil
}

// List returns all members, newest first.
func (a *AdminService) List(ctx context.Context, actor *SessionUser) ([]*User, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	return a.users.ListNewestFirst(ctx)
}

// Get returns one member by id.
func (a *AdminService) Get(ctx context.Context, actor *SessionUser, id uuid.UUID) (*User, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	return a.users.GetByID(ctx, id.String())
}

// Create registers a member on behalf of an admin. Role and plan
// defaults apply the same way self-registration does.
func (a *AdminService) Create(ctx context.Context, actor *SessionUser, record *User) (*User, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	if record == nil || (record.Email == "" && record.Phone == "") {
		return nil, ValidationError("a member needs an email or a phone")
	}

	created, err := a.users.Register(ctx, record)
	if err != nil {
		return nil, err
	}

	a.record(ActivityEventRegisterSuccess, actor, created.ID.String(), map[string]any{"by_admin": true})
	return created, nil
}

// Update applies the mutable-field patch; id and created_at cannot be
// changed through this surface.
func (a *AdminService) Update(ctx context.Context, actor *SessionUser, id uuid.UUID, patch UserPatch) (*User, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}

	updated, err := a.users.UpdateMutable(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if patch.IsActive != nil {
		a.record(ActivityEventUserStatusChange, actor, id.String(), map[string]any{"is_active": *patch.IsActive})
	}
	return updated, nil
}

// Delete soft-deletes a member. Admins cannot delete themselves, that
// would orphan the acting session.
func (a *AdminService) Delete(ctx context.Context, actor *SessionUser, id uuid.UUID) error {
	if err := a.authorize(actor); err != nil {
		return err
	}
	if actor.ID == id.String() {
		return ValidationError("admins cannot delete their own account")
	}
	return a.users.DeleteByID(ctx, id)
}

// Stats aggregates the dashboard summary from the current directory
// snapshot.
func (a *AdminService) Stats(ctx context.Context, actor *SessionUser) (MemberStats, error) {
	if err := a.authorize(actor); err != nil {
		return MemberStats{}, err
	}
	users, err := a.users.ListNewestFirst(ctx)
	if err != nil {
		return MemberStats{}, err
	}
	return CalculateStats(users, a.now()), nil
}

// Activity builds the 30-day activity series.
func (a *AdminService) Activity(ctx context.Context, actor *SessionUser) ([]ActivityPoint, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	users, err := a.users.ListNewestFirst(ctx)
	if err != nil {
		return nil, err
	}
	return ActivitySeries(users, a.now()), nil
}

// Plans buckets the member list for the plan chart.
func (a *AdminService) Plans(ctx context.Context, actor *SessionUser) ([]PlanBucket, error) {
	if err := a.authorize(actor); err != nil {
		return nil, err
	}
	users, err := a.users.ListNewestFirst(ctx)
	if err != nil {
		return nil, err
	}
	return PlanDistribution(users), nil
}

func (a *AdminService) record(eventType ActivityEventType, actor *SessionUser, subject string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["actor"] = actor.ID

	err := a.activity.Record(context.Background(), ActivityEvent{
		EventType:  eventType,
		UserID:     subject,
		Metadata:   metadata,
		OccurredAt: a.now(),
	})
	if err != nil {
		a.logger.Warn("activity sink rejected %s: %v", eventType, err)
	}
}
