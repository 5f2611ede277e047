package memberauth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/robokit/member-auth"
)

func newTestController(t *testing.T) (*auth.HTTPController, *orchestratorFixture) {
	t.Helper()

	orch, fix := newOrchestrator(t)
	admin := auth.NewAdminService(&stubUsers{})
	return auth.NewHTTPController(orch, fix.session, admin), fix
}

func TestNewHTTPControllerRequiresCollaborators(t *testing.T) {
	assert.Panics(t, func() {
		auth.NewHTTPController(nil, nil, nil)
	})
}

func TestSessionGet(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		controller, _ := newTestController(t)

		ctx := router.NewMockContext()
		var payload map[string]any
		ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
			payload = args.Get(1).(map[string]any)
		}).Return(nil)

		require.NoError(t, controller.SessionGet(ctx))
		assert.Equal(t, false, payload["authenticated"])
	})

	t.Run("authenticated", func(t *testing.T) {
		controller, fix := newTestController(t)

		require.NoError(t, fix.session.Start(context.Background()))
		fix.backend.Publish(auth.AuthEvent{
			Type:   auth.AuthEventSignedIn,
			Result: &auth.AuthResult{UserID: "u1", Email: "alice@example.com", Token: "tok-1"},
		})

		ctx := router.NewMockContext()
		var payload map[string]any
		ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
			payload = args.Get(1).(map[string]any)
		}).Return(nil)

		require.NoError(t, controller.SessionGet(ctx))
		assert.Equal(t, true, payload["authenticated"])
		user := payload["user"].(*auth.SessionUser)
		assert.Equal(t, "u1", user.ID)
	})
}

func TestResendOTPPostWithoutAttempt(t *testing.T) {
	controller, _ := newTestController(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	var payload map[string]any
	ctx.On("JSON", router.StatusConflict, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.ResendOTPPost(ctx))
	assert.Equal(t, auth.TextCodeAuthError, payload["code"])
}

func TestAdminStatsRequiresAdmin(t *testing.T) {
	controller, _ := newTestController(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	var payload map[string]any
	ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil)

	require.NoError(t, controller.AdminStats(ctx))
	assert.Equal(t, auth.TextCodeNotAuthenticated, payload["code"])
}

func TestLoginRequestValidate(t *testing.T) {
	assert.NoError(t, auth.LoginRequest{Identifier: "alice@example.com", Password: "secret"}.Validate())
	assert.Error(t, auth.LoginRequest{Identifier: "", Password: "secret"}.Validate())
	assert.Error(t, auth.LoginRequest{Identifier: "not-an-email", Password: "secret"}.Validate())
	assert.Error(t, auth.LoginRequest{Identifier: "alice@example.com", Password: ""}.Validate())
}

func TestRegisterRequestValidate(t *testing.T) {
	valid := auth.RegisterRequest{
		Name:            "Alice",
		Email:           "alice@example.com",
		Password:        "secret0",
		ConfirmPassword: "secret0",
	}
	assert.NoError(t, valid.Validate())

	mismatched := valid
	mismatched.ConfirmPassword = "different"
	assert.Error(t, mismatched.Validate())

	short := valid
	short.Password = "abc"
	short.ConfirmPassword = "abc"
	assert.Error(t, short.Validate())
}

func TestRegisterPhoneRequestValidate(t *testing.T) {
	valid := auth.RegisterPhoneRequest{
		Phone:    "11987654321",
		Email:    "carol@example.com",
		Password: "secret0",
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, auth.RegisterPhoneRequest{Email: "carol@example.com", Password: "secret0"}.Validate())
	assert.Error(t, auth.RegisterPhoneRequest{Phone: "11987654321", Password: "secret0"}.Validate())
}

func TestVerifyOTPRequestValidate(t *testing.T) {
	assert.NoError(t, auth.VerifyOTPRequest{Code: "123456"}.Validate())
	assert.Error(t, auth.VerifyOTPRequest{Code: ""}.Validate())
	assert.Error(t, auth.VerifyOTPRequest{Code: "12345"}.Validate())
	assert.Error(t, auth.VerifyOTPRequest{Code: "12a456"}.Validate())
}

func TestAdminUpdateUserRequestValidate(t *testing.T) {
	pro := auth.PlanPro
	bogus := "enterprise"

	assert.NoError(t, auth.AdminUpdateUserRequest{Plan: &pro}.Validate())
	assert.NoError(t, auth.AdminUpdateUserRequest{}.Validate())
	assert.EqualError(t, auth.AdminUpdateUserRequest{Plan: &bogus}.Validate(), "unknown plan")
}

func TestValidateStringEquals(t *testing.T) {
	rule := auth.ValidateStringEquals("secret")
	assert.NoError(t, rule("secret"))
	assert.EqualError(t, rule("other"), "values must match")
	assert.Error(t, rule(42))
}
