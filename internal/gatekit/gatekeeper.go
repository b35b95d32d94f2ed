package gatekit

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

// Context keys populated on pass-through.
const (
	SessionContextKey = "session_token"
	LocaleContextKey  = "locale"
)

// DefaultReissueAfter is the sliding re-issue window for cookie sessions.
const DefaultReissueAfter = 24 * time.Hour

// Sentinel errors exposed by the gatekeeper constructor.
var (
	ErrMissingSessionManager = errors.New("gatekeeper.missing_session_manager")
	ErrMissingRouteTable     = errors.New("gatekeeper.missing_route_table")
	ErrMissingCookieName     = errors.New("gatekeeper.missing_cookie_name")
)

// Config configures the Gatekeeper.
type Config struct {
	Sessions     *sessiontoken.Manager
	Table        *RouteTable
	Cookie       CookieSettings
	ReissueAfter time.Duration
	Clock        sessiontoken.Clock
	Logger       *zap.Logger
	Metrics      MetricsRecorder
}

// Gatekeeper is the single authorization checkpoint for every request.
// Each invocation is a pure function of the request, the decoded session,
// and the immutable route table; no state is shared across requests.
type Gatekeeper struct {
	sessions     *sessiontoken.Manager
	table        *RouteTable
	cookie       CookieSettings
	reissueAfter time.Duration
	clock        sessiontoken.Clock
	logger       *zap.Logger
	metrics      MetricsRecorder
}

// New constructs a Gatekeeper after validating the supplied configuration.
func New(configuration Config) (*Gatekeeper, error) {
	if configuration.Sessions == nil {
		return nil, fmt.Errorf("gatekeeper.new: %w", ErrMissingSessionManager)
	}
	if configuration.Table == nil {
		return nil, fmt.Errorf("gatekeeper.new: %w", ErrMissingRouteTable)
	}
	if strings.TrimSpace(configuration.Cookie.Name) == "" {
		return nil, fmt.Errorf("gatekeeper.new: %w", ErrMissingCookieName)
	}
	cookie := configuration.Cookie
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = sessiontoken.DefaultSessionLifetime
	}
	reissueAfter := configuration.ReissueAfter
	if reissueAfter <= 0 {
		reissueAfter = DefaultReissueAfter
	}
	clock := configuration.Clock
	if clock == nil {
		clock = sessiontoken.NewSystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	return &Gatekeeper{
		sessions:     configuration.Sessions,
		table:        configuration.Table,
		cookie:       cookie,
		reissueAfter: reissueAfter,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

type decisionKind int

const (
	decisionPassUnclassified decisionKind = iota
	decisionPassPublic
	decisionPassProtected
	decisionRedirect
	decisionUnauthorized
	decisionErrorRedirect
)

type decision struct {
	kind    decisionKind
	target  string
	locale  string
	event   string
	session *sessiontoken.Token
	reissue bool
}

// Middleware returns the per-request gatekeeper handler.
func (gatekeeper *Gatekeeper) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		result := gatekeeper.decide(contextGin)

		contextGin.Header("X-Locale", result.locale)
		contextGin.Set(LocaleContextKey, result.locale)
		if result.event != "" {
			gatekeeper.metrics.Increment(result.event)
		}

		switch result.kind {
		case decisionPassUnclassified, decisionPassPublic:
			contextGin.Next()
		case decisionPassProtected:
			contextGin.Header("Cache-Control", "no-store, max-age=0")
			contextGin.Set(SessionContextKey, result.session)
			if result.reissue {
				gatekeeper.reissueCookie(contextGin, result.session)
			}
			contextGin.Next()
		case decisionRedirect:
			contextGin.Redirect(http.StatusFound, result.target)
			contextGin.Abort()
		case decisionUnauthorized:
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		case decisionErrorRedirect:
			contextGin.Redirect(http.StatusFound, "/"+result.locale+"/auth/error")
			contextGin.Abort()
		}
	}
}

// decide evaluates the decision table. A panic anywhere in the evaluation
// is converted to a generic error-page redirect; nothing propagates to the
// transport layer.
func (gatekeeper *Gatekeeper) decide(contextGin *gin.Context) (result decision) {
	result = decision{kind: decisionPassUnclassified, locale: DefaultLocale}
	defer func() {
		if recovered := recover(); recovered != nil {
			gatekeeper.logger.Error("gatekeeper recovered from panic",
				zap.String("code", "gate.panic"),
				zap.String("path", contextGin.Request.URL.Path),
				zap.Any("panic", recovered),
				zap.Stack("stack"))
			result = decision{kind: decisionErrorRedirect, locale: result.locale, event: EventRecovered}
		}
	}()

	locale, routePath := SplitLocale(contextGin.Request.URL.Path)
	result.locale = locale

	routeClass := gatekeeper.table.Classify(routePath)
	if routeClass == RouteUnclassified {
		return result
	}

	rawToken, fromBearer := gatekeeper.extractToken(contextGin, routeClass)
	var session *sessiontoken.Token
	if rawToken != "" {
		session = gatekeeper.sessions.Decode(contextGin.Request.Context(), rawToken)
	}

	if routeClass == RoutePublic {
		switch {
		case session != nil && session.Error != "":
			result.kind = decisionRedirect
			result.event = EventRedirectLogin
			result.target = "/" + locale + "/login?error=SessionExpired"
		case session != nil:
			result.kind = decisionRedirect
			result.event = EventRedirectDashboard
			result.target = "/" + locale + "/dashboard"
		default:
			result.kind = decisionPassPublic
		}
		return result
	}

	if session == nil || session.Error != "" {
		if routeClass == RouteAPI {
			result.kind = decisionUnauthorized
			result.event = EventUnauthorized
			return result
		}
		query := url.Values{}
		query.Set("callbackUrl", "/"+locale+"/"+routePath)
		if session != nil && session.Error != "" {
			query.Set("error", "SessionExpired")
		}
		result.kind = decisionRedirect
		result.event = EventRedirectLogin
		result.target = "/" + locale + "/login?" + query.Encode()
		return result
	}

	result.kind = decisionPassProtected
	result.event = EventPassThrough
	result.session = session
	result.reissue = !fromBearer && gatekeeper.shouldReissue(session)
	return result
}

func (gatekeeper *Gatekeeper) extractToken(contextGin *gin.Context, routeClass RouteClass) (string, bool) {
	cookie, cookieErr := contextGin.Request.Cookie(gatekeeper.cookie.ResolvedName())
	if cookieErr == nil && cookie != nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, false
	}
	if routeClass != RouteAPI {
		return "", false
	}
	authorization := contextGin.GetHeader("Authorization")
	const bearerPrefix = "Bearer "
	if len(authorization) > len(bearerPrefix) && strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authorization[len(bearerPrefix):]), true
	}
	return "", false
}

func (gatekeeper *Gatekeeper) shouldReissue(session *sessiontoken.Token) bool {
	if session.Refreshed() {
		return true
	}
	if session.IssuedAt.IsZero() {
		return false
	}
	return gatekeeper.clock.Now().Sub(session.IssuedAt) >= gatekeeper.reissueAfter
}

func (gatekeeper *Gatekeeper) reissueCookie(contextGin *gin.Context, session *sessiontoken.Token) {
	encoded, encodeErr := gatekeeper.sessions.Encode(*session)
	if encodeErr != nil {
		gatekeeper.logger.Error("session re-issue failed",
			zap.String("code", "gate.reissue_failed"),
			zap.String("subject", session.Subject),
			zap.Error(encodeErr))
		return
	}
	WriteSessionCookie(contextGin.Writer, gatekeeper.cookie, encoded)
}

// SessionFromContext returns the session record injected on pass-through.
func SessionFromContext(contextGin *gin.Context) *sessiontoken.Token {
	value, found := contextGin.Get(SessionContextKey)
	if !found {
		return nil
	}
	session, ok := value.(*sessiontoken.Token)
	if !ok {
		return nil
	}
	return session
}

// LocaleFromContext returns the locale resolved for the request.
func LocaleFromContext(contextGin *gin.Context) string {
	value, found := contextGin.Get(LocaleContextKey)
	if !found {
		return DefaultLocale
	}
	locale, ok := value.(string)
	if !ok || locale == "" {
		return DefaultLocale
	}
	return locale
}
