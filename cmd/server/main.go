package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lmoraes/taskboard/internal/gatekit"
	"github.com/lmoraes/taskboard/internal/googleauth"
	"github.com/lmoraes/taskboard/internal/taskkit"
	"github.com/lmoraes/taskboard/internal/taskpg"
	"github.com/lmoraes/taskboard/internal/web"
	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityValidator = func(ctx context.Context) (googleauth.IDTokenValidator, error) {
	return googleauth.NewIDTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "taskboard",
		Short:   "Task management service with Google sign-in, JWT session cookies, and locale-aware route gating",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("oauth_redirect_url", "", "Absolute URL of the Google sign-in callback")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for the session JWT")
	rootCmd.Flags().Duration("session_lifetime", sessiontoken.DefaultSessionLifetime, "Session cookie lifetime")
	rootCmd.Flags().Duration("reissue_after", gatekit.DefaultReissueAfter, "Sliding window after which a session cookie is re-issued")
	rootCmd.Flags().Duration("state_ttl", 10*time.Minute, "Lifetime of the OAuth state token")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP cookies for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for users and tasks (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("postgres_driver", "pgx", "Driver for postgres:// URLs: pgx or gorm")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin API clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("google_client_secret", rootCmd.Flags().Lookup("google_client_secret"))
	_ = viper.BindPFlag("oauth_redirect_url", rootCmd.Flags().Lookup("oauth_redirect_url"))
	_ = viper.BindPFlag("session_signing_key", rootCmd.Flags().Lookup("session_signing_key"))
	_ = viper.BindPFlag("session_lifetime", rootCmd.Flags().Lookup("session_lifetime"))
	_ = viper.BindPFlag("reissue_after", rootCmd.Flags().Lookup("reissue_after"))
	_ = viper.BindPFlag("state_ttl", rootCmd.Flags().Lookup("state_ttl"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("postgres_driver", rootCmd.Flags().Lookup("postgres_driver"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "task_session"
	sessionIssuer     = "taskboard"

	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingOAuthRedirectURL   = "config.missing_oauth_redirect_url"
	configCodeMissingSessionSigningKey  = "config.missing_session_signing_key"
	configCodeInvalidSessionLifetime    = "config.invalid_session_lifetime"
	configCodeInvalidReissueAfter       = "config.invalid_reissue_after"
	configCodeInvalidPostgresDriver     = "config.invalid_postgres_driver"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeIdentityValidatorInit     = "config.identity_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig carries the validated settings the server is wired with.
type ServerConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	SessionSigningKey  string
	SessionLifetime    time.Duration
	ReissueAfter       time.Duration
	StateTTL           time.Duration
	CookieDomain       string
	PostgresDriver     string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (ServerConfig, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}

	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}

	oauthRedirectURL := viper.GetString("oauth_redirect_url")
	if oauthRedirectURL == "" {
		return ServerConfig{}, configError(configCodeMissingOAuthRedirectURL, "oauth_redirect_url must be provided")
	}

	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingSessionSigningKey, "session_signing_key must be provided")
	}

	sessionLifetime := viper.GetDuration("session_lifetime")
	if sessionLifetime <= 0 {
		return ServerConfig{}, configError(configCodeInvalidSessionLifetime, "session_lifetime must be greater than zero")
	}

	reissueAfter := viper.GetDuration("reissue_after")
	if reissueAfter <= 0 {
		return ServerConfig{}, configError(configCodeInvalidReissueAfter, "reissue_after must be greater than zero")
	}

	postgresDriver := viper.GetString("postgres_driver")
	if postgresDriver != "pgx" && postgresDriver != "gorm" {
		return ServerConfig{}, configError(configCodeInvalidPostgresDriver, "postgres_driver must be pgx or gorm")
	}

	stateTTL := 10 * time.Minute
	if configuredStateTTL := viper.GetDuration("state_ttl"); configuredStateTTL > 0 {
		stateTTL = configuredStateTTL
	}

	return ServerConfig{
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		OAuthRedirectURL:   oauthRedirectURL,
		SessionSigningKey:  sessionSigningKey,
		SessionLifetime:    sessionLifetime,
		ReissueAfter:       reissueAfter,
		StateTTL:           stateTTL,
		CookieDomain:       viper.GetString("cookie_domain"),
		PostgresDriver:     postgresDriver,
	}, nil
}

// applicationStore is the combined persistence surface the server wires up.
type applicationStore interface {
	taskkit.UserStore
	taskkit.TaskStore
}

func buildApplicationStore(ctx context.Context, logger *zap.Logger, databaseURL string, postgresDriver string) (applicationStore, func(), error) {
	if databaseURL == "" {
		logger.Info("using in-memory store")
		return taskkit.NewMemoryStore(), func() {}, nil
	}

	isPostgres := strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
	if isPostgres && postgresDriver == "pgx" {
		pool, poolErr := taskpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := taskpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, schemaErr
		}
		logger.Info("using postgres store", zap.String("driver", "pgx"))
		return taskpg.NewPostgresStore(pool), pool.Close, nil
	}

	store, storeErr := taskkit.NewDatabaseStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, nil, storeErr
	}
	logger.Info("using persistent store", zap.String("driver", store.Driver()))
	return store, func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("store close error", zap.Error(closeErr))
		}
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	store, closeStore, storeErr := buildApplicationStore(command.Context(), logger, databaseURL, serverConfig.PostgresDriver)
	if storeErr != nil {
		return storeErr
	}
	defer closeStore()

	validator, validatorErr := buildIdentityValidator(command.Context())
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeIdentityValidatorInit, validatorErr)
	}

	flow, flowErr := googleauth.NewFlow(googleauth.Config{
		ClientID:     serverConfig.GoogleClientID,
		ClientSecret: serverConfig.GoogleClientSecret,
		RedirectURL:  serverConfig.OAuthRedirectURL,
		Validator:    validator,
	})
	if flowErr != nil {
		return flowErr
	}

	clock := sessiontoken.NewSystemClock()
	sessions, sessionsErr := sessiontoken.New(sessiontoken.Config{
		SigningKey:      []byte(serverConfig.SessionSigningKey),
		Issuer:          sessionIssuer,
		SessionLifetime: serverConfig.SessionLifetime,
		Refresher:       googleauth.NewTokenEndpointRefresher(serverConfig.GoogleClientID, serverConfig.GoogleClientSecret),
		Clock:           clock,
		Logger:          logger,
	})
	if sessionsErr != nil {
		return sessionsErr
	}

	cookieSettings := gatekit.CookieSettings{
		Name:   sessionCookieName,
		Domain: serverConfig.CookieDomain,
		Secure: !devInsecureHTTP,
		MaxAge: serverConfig.SessionLifetime,
	}

	metricsRecorder := gatekit.NewCounterMetrics()
	gatekeeper, gatekeeperErr := gatekit.New(gatekit.Config{
		Sessions:     sessions,
		Table:        gatekit.DefaultRouteTable(),
		Cookie:       cookieSettings,
		ReissueAfter: serverConfig.ReissueAfter,
		Clock:        clock,
		Logger:       logger,
		Metrics:      metricsRecorder,
	})
	if gatekeeperErr != nil {
		return gatekeeperErr
	}
	router.Use(gatekeeper.Middleware())

	web.MountAuthRoutes(router, web.AuthDeps{
		Flow:     flow,
		Sessions: sessions,
		States:   gatekit.NewMemoryStateStore(serverConfig.StateTTL),
		Users:    store,
		Cookie:   cookieSettings,
		Clock:    clock,
		Logger:   logger,
	})
	web.MountTaskRoutes(router, store, logger)
	web.RegisterPages(router, store, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
