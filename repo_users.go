package memberauth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the canonical account store.
type Users interface {
	repository.Repository[*User]

	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	CheckAuthMethods(ctx context.Context, email string) (AuthMethods, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	MarkPhoneVerified(ctx context.Context, id uuid.UUID) error

	ListNewestFirst(ctx context.Context) ([]*User, error)
	UpdateMutable(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// UserPatch carries the admin-mutable fields. ID and creation time are
// immutable once assigned; anything outside this struct cannot be
// changed through the admin surface.
type UserPatch struct {
	Name     *string `json:"name,omitempty"`
	Plan     *Plan   `json:"plan,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	lastLogin := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"last_login" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, lastLogin, lastLogin, user.ID).Exec(ctx)

	return err
}

// CheckAuthMethods reports account existence and password presence for
// an email without exposing the hash itself. The orchestrator relies
// on this to disambiguate "invalid credentials" rejections.
func (a *users) CheckAuthMethods(ctx context.Context, email string) (AuthMethods, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Column("id", "password_hash", "phone").
		Where("?TableAlias.email = ?", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return AuthMethods{}, nil
		}
		return AuthMethods{}, err
	}

	return AuthMethods{
		Exists:      true,
		HasPassword: record.PasswordHash != "",
		HasPhone:    record.Phone != "",
	}, nil
}

func (a *users) SetPasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"password_hash" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, passwordHash, time.Now(), id).Exec(ctx)

	return err
}

func (a *users) MarkPhoneVerified(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"phone_verified" = TRUE,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, time.Now(), id).Exec(ctx)

	return err
}

func (a *users) ListNewestFirst(ctx context.Context) ([]*User, error) {
	var records []*User
	err := a.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateMutable applies an admin patch. Only name, plan, is_active and
// phone are writable; id and created_at never change.
func (a *users) UpdateMutable(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	if patch.Plan != nil && !ValidPlan(*patch.Plan) {
		return nil, ValidationError("unknown plan: " + *patch.Plan)
	}

	record := &User{ID: id}
	columns := make([]string, 0, 5)

	if patch.Name != nil {
		record.Name = *patch.Name
		columns = append(columns, "name")
	}
	if patch.Plan != nil {
		record.Plan = *patch.Plan
		columns = append(columns, "plan")
	}
	if patch.IsActive != nil {
		record.IsActive = *patch.IsActive
		columns = append(columns, "is_active")
	}
	if patch.Phone != nil {
		record.Phone = *patch.Phone
		columns = append(columns, "phone")
	}

	if len(columns) == 0 {
		return a.GetByID(ctx, id.String())
	}

	now := time.Now()
	record.UpdatedAt = &now
	columns = append(columns, "updated_at")

	_, err := a.db.NewUpdate().
		Model(record).
		Column(columns...).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return a.GetByID(ctx, id.String())
}

func (a *users) DeleteByID(ctx context.Context, id uuid.UUID) error {
	record := &User{ID: id}
	_, err := a.db.NewDelete().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.Plan == "" {
		record.Plan = PlanFree
	}

	record.IsActive = true

	if record.Name == "" {
		record.Name = DisplayName("", record.Email, record.Phone)
	}

	if record.ID == uuid.Nil {
		if record.Email != "" {
			if id, err := hashid.NewUUID(record.Email); err == nil {
				record.ID = id
			}
		}
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	if strings.HasPrefix(trimmed, "+") {
		options = append(options, identifierOption{
			column: "phone",
			value:  trimmed,
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
