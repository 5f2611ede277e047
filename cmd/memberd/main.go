package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	memberauth "github.com/robokit/member-auth"
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("memberd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := loadConfig()
	ctx := context.Background()

	if err := run(ctx, cfg, lgr); err != nil {
		lgr.Error("memberd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, lgr *glog.BaseLogger) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	if err := createTables(ctx, db); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	repo := memberauth.NewRepositoryManager(db)
	repo.MustValidate()

	authLog := &printfLogger{lgr: lgr.GetLogger("auth")}

	tokener := memberauth.NewTokenServiceFromConfig(cfg, authLog)

	directory := memberauth.NewDirectory(db, repo, tokener,
		memberauth.DirectoryWithLogger(authLog),
	)

	fallback := memberauth.NewFileFallbackStore(cfg.fallbackPath)

	session := memberauth.NewSessionContext(directory, fallback,
		memberauth.SessionWithLogger(authLog),
	)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session context: %w", err)
	}
	defer session.Close()

	sink := memberauth.NewBunActivitySink(db)

	orchestrator := memberauth.NewOrchestrator(directory, session, fallback,
		memberauth.WithLogger(authLog),
		memberauth.WithActivitySink(sink),
	)

	admin := memberauth.NewAdminService(repo.Users(),
		memberauth.AdminWithLogger(authLog),
		memberauth.AdminWithActivitySink(sink),
	)

	controller := memberauth.NewHTTPController(orchestrator, session, admin,
		memberauth.ControllerWithLogger(&printfLogger{lgr: lgr.GetLogger("http")}),
		memberauth.ControllerWithActivityLog(sink),
		memberauth.ControllerWithDebug(cfg.debug),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: cfg.debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(lgr.GetLogger("router"))
	controller.RegisterRoutes(srv.Router())

	lgr.Info("memberd listening", "addr", cfg.addr)
	srv.Serve(cfg.addr)

	waitExitSignal()

	return nil
}

func createTables(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*memberauth.User)(nil),
		(*memberauth.OTPChallenge)(nil),
		(*memberauth.PasswordReset)(nil),
		(*memberauth.ActivityRecord)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func waitExitSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

// appConfig is the env-driven runtime configuration. It satisfies the
// library's Config interface.
type appConfig struct {
	addr            string
	dsn             string
	fallbackPath    string
	signingKey      string
	tokenExpiration int
	issuer          string
	audience        []string
	phoneRegion     string
	contextKey      string
	debug           bool
}

func loadConfig() appConfig {
	cfg := appConfig{
		addr:            envOr("MEMBERD_ADDR", ":8572"),
		dsn:             envOr("MEMBERD_DSN", "file:memberd.db?cache=shared&_pragma=foreign_keys(1)"),
		fallbackPath:    envOr("MEMBERD_FALLBACK_PATH", "memberd-fallback.json"),
		signingKey:      envOr("MEMBERD_SIGNING_KEY", "insecure-dev-signing-key"),
		tokenExpiration: envIntOr("MEMBERD_TOKEN_EXPIRATION_HOURS", 72),
		issuer:          envOr("MEMBERD_ISSUER", "memberd"),
		phoneRegion:     envOr("MEMBERD_PHONE_REGION", memberauth.DefaultPhoneRegion),
		contextKey:      envOr("MEMBERD_CONTEXT_KEY", "user"),
		debug:           envOr("MEMBERD_DEBUG", "") != "",
	}

	if raw := envOr("MEMBERD_AUDIENCE", "memberd"); raw != "" {
		for _, aud := range strings.Split(raw, ",") {
			if aud = strings.TrimSpace(aud); aud != "" {
				cfg.audience = append(cfg.audience, aud)
			}
		}
	}

	return cfg
}

func (c appConfig) GetSigningKey() string         { return c.signingKey }
func (c appConfig) GetSigningMethod() string      { return "HS256" }
func (c appConfig) GetContextKey() string         { return c.contextKey }
func (c appConfig) GetTokenExpiration() int       { return c.tokenExpiration }
func (c appConfig) GetIssuer() string             { return c.issuer }
func (c appConfig) GetAudience() []string         { return c.audience }
func (c appConfig) GetDefaultPhoneRegion() string { return c.phoneRegion }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// printfLogger bridges the library's printf-style Logger onto glog.
type printfLogger struct {
	lgr glog.Logger
}

func (l *printfLogger) Debug(format string, args ...any) { l.lgr.Debug(fmt.Sprintf(format, args...)) }
func (l *printfLogger) Info(format string, args ...any)  { l.lgr.Info(fmt.Sprintf(format, args...)) }
func (l *printfLogger) Warn(format string, args ...any)  { l.lgr.Warn(fmt.Sprintf(format, args...)) }
func (l *printfLogger) Error(format string, args ...any) { l.lgr.Error(fmt.Sprintf(format, args...)) }
