package memberauth

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the orchestrator and the admin surface as a
// JSON API.
type HTTPController struct {
	Debug        bool
	Logger       Logger
	Orchestrator *Orchestrator
	Session      *SessionContext
	Admin        *AdminService
	Activity     *BunActivitySink
}

type HTTPControllerOption func(*HTTPController)

func ControllerWithLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func ControllerWithDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Debug = debug
	}
}

func ControllerWithActivityLog(sink *BunActivitySink) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Activity = sink
	}
}

func NewHTTPController(orchestrator *Orchestrator, session *SessionContext, admin *AdminService, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:       defLogger{},
		Orchestrator: orchestrator,
		Session:      session,
		Admin:        admin,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Orchestrator == nil {
		panic("Missing Orchestrator in auth controller...")
	}
	if c.Session == nil {
		panic("Missing SessionContext in auth controller...")
	}

	return c
}

// RegisterRoutes wires the API under the group.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/auth/login", c.LoginPost)
	group.Post("/auth/register", c.RegisterPost)
	group.Post("/auth/register-phone", c.RegisterPhonePost)
	group.Post("/auth/otp/verify", c.VerifyOTPPost)
	group.Post("/auth/otp/resend", c.ResendOTPPost)
	group.Post("/auth/password-reset", c.PasswordResetPost)
	group.Post("/auth/password", c.SetPasswordPost)
	group.Post("/auth/logout", c.LogoutPost)
	group.Get("/auth/session", c.SessionGet)

	group.Get("/admin/stats", c.AdminStats)
	group.Get("/admin/activity", c.AdminActivity)
	group.Get("/admin/plans", c.AdminPlans)
	group.Get("/admin/users", c.AdminListUsers)
	group.Post("/admin/users", c.AdminCreateUser)
	group.Patch("/admin/users/:id", c.AdminUpdateUser)
	group.Delete("/admin/users/:id", c.AdminDeleteUser)
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (c *HTTPController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.Login(ctx.Context(), payload.Identifier, payload.Password)
	return c.respondOutcome(ctx, out)
}

// RegisterRequest payload
type RegisterRequest struct {
	Name            string `form:"name" json:"name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (c *HTTPController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.Register(ctx.Context(), payload.Email, payload.Password, payload.Name)
	return c.respondOutcome(ctx, out)
}

// RegisterPhoneRequest payload
type RegisterPhoneRequest struct {
	Name     string `form:"name" json:"name"`
	Phone    string `form:"phone" json:"phone"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r RegisterPhoneRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 200)),
		validation.Field(&r.Phone, validation.Required, validation.Length(8, 20)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
	)
}

func (c *HTTPController) RegisterPhonePost(ctx router.Context) error {
	payload := new(RegisterPhoneRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.RegisterWithPhoneAndEmail(
		ctx.Context(),
		payload.Phone,
		payload.Email,
		payload.Password,
		payload.Name,
	)
	return c.respondOutcome(ctx, out)
}

// VerifyOTPRequest payload
type VerifyOTPRequest struct {
	Code string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r VerifyOTPRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

func (c *HTTPController) VerifyOTPPost(ctx router.Context) error {
	payload := new(VerifyOTPRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.VerifyOTP(ctx.Context(), payload.Code)
	return c.respondOutcome(ctx, out)
}

func (c *HTTPController) ResendOTPPost(ctx router.Context) error {
	out := c.Orchestrator.ResendOTP(ctx.Context())
	return c.respondOutcome(ctx, out)
}

// PasswordResetRequest payload
type PasswordResetRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (c *HTTPController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.ResetPassword(ctx.Context(), payload.Email)
	if out.Kind == OutcomePending {
		// Deliberately the same answer whether or not the account
		// exists.
		return ctx.JSON(router.StatusOK, map[string]string{
			"status": "reset_requested",
		})
	}
	return c.respondOutcome(ctx, out)
}

// SetPasswordRequest payload
type SetPasswordRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r SetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
	)
}

func (c *HTTPController) SetPasswordPost(ctx router.Context) error {
	payload := new(SetPasswordRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	out := c.Orchestrator.SetPassword(ctx.Context(), payload.Email, payload.Password)
	return c.respondOutcome(ctx, out)
}

func (c *HTTPController) LogoutPost(ctx router.Context) error {
	if err := c.Orchestrator.Logout(ctx.Context()); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

func (c *HTTPController) SessionGet(ctx router.Context) error {
	user := c.Session.Current()
	if user == nil {
		return ctx.JSON(router.StatusOK, map[string]any{
			"authenticated": false,
		})
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
		"degraded":      c.Session.Degraded(),
	})
}

func (c *HTTPController) AdminStats(ctx router.Context) error {
	stats, err := c.Admin.Stats(ctx.Context(), c.actor())
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, stats)
}

func (c *HTTPController) AdminActivity(ctx router.Context) error {
	series, err := c.Admin.Activity(ctx.Context(), c.actor())
	if err != nil {
		return c.respondError(ctx, err)
	}

	body := map[string]any{"series": series}
	if c.Activity != nil {
		if log, err := c.Activity.Recent(ctx.Context(), 50); err == nil {
			body["log"] = log
		}
	}
	return ctx.JSON(router.StatusOK, body)
}

func (c *HTTPController) AdminPlans(ctx router.Context) error {
	buckets, err := c.Admin.Plans(ctx.Context(), c.actor())
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"plans": buckets,
	})
}

func (c *HTTPController) AdminListUsers(ctx router.Context) error {
	users, err := c.Admin.List(ctx.Context(), c.actor())
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"users": users,
	})
}

// AdminCreateUserRequest payload
type AdminCreateUserRequest struct {
	Name  string `form:"name" json:"name"`
	Email string `form:"email" json:"email"`
	Phone string `form:"phone" json:"phone"`
	Plan  string `form:"plan" json:"plan"`
}

// Validate will validate the payload
func (r AdminCreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.Plan, validation.In(PlanFree, PlanPro, PlanMaster)),
	)
}

func (c *HTTPController) AdminCreateUser(ctx router.Context) error {
	payload := new(AdminCreateUserRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	created, err := c.Admin.Create(ctx.Context(), c.actor(), &User{
		Name:  payload.Name,
		Email: payload.Email,
		Phone: payload.Phone,
		Plan:  payload.Plan,
	})
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusCreated, created)
}

// AdminUpdateUserRequest payload; absent fields stay untouched.
type AdminUpdateUserRequest struct {
	Name     *string `form:"name" json:"name"`
	Plan     *string `form:"plan" json:"plan"`
	IsActive *bool   `form:"is_active" json:"is_active"`
	Phone    *string `form:"phone" json:"phone"`
}

// Validate will validate the payload
func (r AdminUpdateUserRequest) Validate() error {
	if r.Plan != nil && !ValidPlan(*r.Plan) {
		return errors.New("unknown plan")
	}
	return nil
}

func (c *HTTPController) AdminUpdateUser(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.respondError(ctx, ValidationError("invalid user id"))
	}

	payload := new(AdminUpdateUserRequest)
	if err := c.bind(ctx, payload, payload.Validate); err != nil {
		return c.respondError(ctx, err)
	}

	updated, err := c.Admin.Update(ctx.Context(), c.actor(), id, UserPatch{
		Name:     payload.Name,
		Plan:     payload.Plan,
		IsActive: payload.IsActive,
		Phone:    payload.Phone,
	})
	if err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, updated)
}

func (c *HTTPController) AdminDeleteUser(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.respondError(ctx, ValidationError("invalid user id"))
	}

	if err := c.Admin.Delete(ctx.Context(), c.actor(), id); err != nil {
		return c.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "deleted",
	})
}

func (c *HTTPController) actor() *SessionUser {
	return c.Session.Current()
}

func (c *HTTPController) bind(ctx router.Context, payload any, validate func() error) error {
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("payload bind failed: %v", err)
		return ValidationError("could not parse request body")
	}

	if c.Debug {
		fmt.Println("======= AUTH PAYLOAD ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("===========================")
	}

	if err := validate(); err != nil {
		c.Logger.Error("payload validation failed: %v", err)
		return ValidationError(err.Error())
	}
	return nil
}

func (c *HTTPController) respondOutcome(ctx router.Context, out Outcome) error {
	switch out.Kind {
	case OutcomeAuthenticated:
		return ctx.JSON(router.StatusOK, map[string]any{
			"user":                    out.User,
			"degraded":                out.Degraded,
			"pending_password_attach": out.PendingPasswordAttach,
		})
	case OutcomePending:
		return ctx.JSON(router.StatusAccepted, map[string]string{
			"status": "pending_verification",
		})
	default:
		body := map[string]any{
			"error": errorMessage(out.Err),
			"code":  out.Code(),
		}
		if out.RetryAfterSeconds > 0 {
			body["retry_after_seconds"] = out.RetryAfterSeconds
		}
		return ctx.JSON(httpStatus(out.Err), body)
	}
}

func (c *HTTPController) respondError(ctx router.Context, err error) error {
	return ctx.JSON(httpStatus(err), map[string]any{
		"error": errorMessage(err),
		"code":  TextCode(err),
	})
}

func errorMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

// httpStatus maps a classified error to its HTTP status, falling back
// to 500 for anything unclassified.
func httpStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return router.StatusInternalServerError
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
