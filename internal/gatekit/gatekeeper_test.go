package gatekit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

const testSigningKey = "gatekeeper-test-signing-key"

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type panicClock struct{}

func (panicClock) Now() time.Time {
	panic("clock unavailable")
}

type countingRefresher struct {
	calls  int
	result sessiontoken.RefreshResult
	err    error
}

func (refresher *countingRefresher) Refresh(ctx context.Context, refreshToken string) (sessiontoken.RefreshResult, error) {
	refresher.calls++
	return refresher.result, refresher.err
}

func newTestSessionManager(t *testing.T, clock sessiontoken.Clock, refresher sessiontoken.Refresher) *sessiontoken.Manager {
	t.Helper()
	manager, err := sessiontoken.New(sessiontoken.Config{
		SigningKey: []byte(testSigningKey),
		Issuer:     "taskboard",
		Refresher:  refresher,
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	return manager
}

type gatekeeperFixture struct {
	router   *gin.Engine
	manager  *sessiontoken.Manager
	metrics  *CounterMetrics
	sessions []*sessiontoken.Token
}

func newGatekeeperFixture(t *testing.T, manager *sessiontoken.Manager, clock sessiontoken.Clock) *gatekeeperFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := NewCounterMetrics()
	gatekeeper, err := New(Config{
		Sessions: manager,
		Table:    DefaultRouteTable(),
		Cookie:   CookieSettings{Name: "task_session"},
		Clock:    clock,
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("unexpected gatekeeper error: %v", err)
	}

	fixture := &gatekeeperFixture{manager: manager, metrics: metrics}
	router := gin.New()
	router.Use(gatekeeper.Middleware())
	capture := func(contextGin *gin.Context) {
		fixture.sessions = append(fixture.sessions, SessionFromContext(contextGin))
		contextGin.String(http.StatusOK, "ok")
	}
	router.GET("/en/dashboard", capture)
	router.GET("/dashboard", capture)
	router.GET("/en/login", capture)
	router.GET("/login", capture)
	router.GET("/about", capture)
	router.GET("/api/tasks", capture)
	fixture.router = router
	return fixture
}

func (fixture *gatekeeperFixture) do(t *testing.T, path string, cookie string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		request.AddCookie(&http.Cookie{Name: "task_session", Value: cookie})
	}
	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func TestErroredSessionOnLoginRedirectsWithSessionExpired(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		AccessTokenExpiresAtMillis: now.Add(time.Hour).UnixMilli(),
		Error:                      sessiontoken.ErrorRefreshFailed,
	})

	recorder := fixture.do(t, "/en/login", raw, nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/en/login?error=SessionExpired" {
		t.Fatalf("unexpected redirect target %q", location)
	}
}

func TestValidSessionOnLoginRedirectsToDashboard(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-current",
		AccessTokenExpiresAtMillis: now.Add(time.Hour).UnixMilli(),
	})

	recorder := fixture.do(t, "/en/login", raw, nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/en/dashboard" {
		t.Fatalf("unexpected redirect target %q", location)
	}
	if fixture.metrics.Count(EventRedirectDashboard) != 1 {
		t.Fatalf("expected one dashboard redirect recorded")
	}
}

func TestPublicRouteWithoutSessionPassesThrough(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	recorder := fixture.do(t, "/en/login", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if cacheControl := recorder.Header().Get("Cache-Control"); cacheControl != "" {
		t.Fatalf("expected no cache-control on public route, got %q", cacheControl)
	}
}

func TestUnauthenticatedAPIRequestGets401JSON(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	recorder := fixture.do(t, "/api/tasks", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "Unauthorized" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestUnauthenticatedPageRedirectsWithDefaultLocaleCallback(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	recorder := fixture.do(t, "/dashboard", "", nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	location, parseErr := url.Parse(recorder.Header().Get("Location"))
	if parseErr != nil {
		t.Fatalf("parse location: %v", parseErr)
	}
	if location.Path != "/pt/login" {
		t.Fatalf("unexpected redirect path %q", location.Path)
	}
	if callback := location.Query().Get("callbackUrl"); callback != "/pt/dashboard" {
		t.Fatalf("unexpected callbackUrl %q", callback)
	}
	if location.Query().Has("error") {
		t.Fatalf("expected no error param when the session is simply absent")
	}
}

func TestErroredSessionOnProtectedPageRedirectsWithError(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{err: errors.New("token_endpoint.status: 400")}
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, refresher)
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: now.Add(-time.Second).UnixMilli(),
	})

	recorder := fixture.do(t, "/en/dashboard", raw, nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	location, _ := url.Parse(recorder.Header().Get("Location"))
	if location.Path != "/en/login" {
		t.Fatalf("unexpected redirect path %q", location.Path)
	}
	if location.Query().Get("error") != "SessionExpired" {
		t.Fatalf("expected SessionExpired error param, got %q", location.RawQuery)
	}
	if callback := location.Query().Get("callbackUrl"); callback != "/en/dashboard" {
		t.Fatalf("unexpected callbackUrl %q", callback)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", refresher.calls)
	}
}

func TestValidSessionPassesThroughWithCacheControl(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-current",
		AccessTokenExpiresAtMillis: now.Add(time.Hour).UnixMilli(),
	})

	recorder := fixture.do(t, "/en/dashboard", raw, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if cacheControl := recorder.Header().Get("Cache-Control"); cacheControl != "no-store, max-age=0" {
		t.Fatalf("unexpected cache-control %q", cacheControl)
	}
	if locale := recorder.Header().Get("X-Locale"); locale != "en" {
		t.Fatalf("unexpected locale header %q", locale)
	}
	if len(fixture.sessions) != 1 || fixture.sessions[0] == nil || fixture.sessions[0].Subject != "user-1" {
		t.Fatalf("expected session injected into handler context")
	}
	if recorder.Header().Get("Set-Cookie") != "" {
		t.Fatalf("expected no re-issue for a fresh session")
	}
}

func TestUnclassifiedRoutePassesThroughUntouched(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{}
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, refresher)
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	recorder := fixture.do(t, "/about", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if refresher.calls != 0 {
		t.Fatalf("expected no decode work on unclassified routes")
	}
}

func TestBearerTokenAcceptedOnAPIRoute(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-current",
		AccessTokenExpiresAtMillis: now.Add(time.Hour).UnixMilli(),
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+raw)
	recorder := fixture.do(t, "/api/tasks", "", header)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Header().Get("Set-Cookie") != "" {
		t.Fatalf("bearer sessions must never be re-issued via cookie")
	}
}

func TestPanicDuringDecisionRedirectsToErrorPage(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, panicClock{})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-current",
		AccessTokenExpiresAtMillis: now.Add(time.Hour).UnixMilli(),
	})

	recorder := fixture.do(t, "/en/dashboard", raw, nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/en/auth/error" {
		t.Fatalf("unexpected redirect target %q", location)
	}
	if fixture.metrics.Count(EventRecovered) != 1 {
		t.Fatalf("expected recovery recorded")
	}
}

func TestStaleSessionIsReissuedOnPassThrough(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	later := issuedAt.Add(25 * time.Hour)

	mintManager := newTestSessionManager(t, fixedClock{timestamp: issuedAt}, &countingRefresher{})
	raw, _ := mintManager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-current",
		AccessTokenExpiresAtMillis: later.Add(time.Hour).UnixMilli(),
	})

	manager := newTestSessionManager(t, fixedClock{timestamp: later}, &countingRefresher{})
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: later})

	recorder := fixture.do(t, "/en/dashboard", raw, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	cookies := recorder.Result().Cookies()
	var reissued string
	for _, cookie := range cookies {
		if cookie.Name == "task_session" {
			reissued = cookie.Value
		}
	}
	if reissued == "" {
		t.Fatalf("expected session cookie re-issue after 24h")
	}
	decoded := manager.Decode(context.Background(), reissued)
	if decoded == nil {
		t.Fatalf("expected re-issued cookie to decode")
	}
	if !decoded.IssuedAt.Equal(later) {
		t.Fatalf("expected issued-at reset to %v, got %v", later, decoded.IssuedAt)
	}
}

func TestRefreshedCredentialsArePersistedToCookie(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{result: sessiontoken.RefreshResult{
		AccessToken:      "access-new",
		ExpiresInSeconds: 3600,
	}}
	manager := newTestSessionManager(t, fixedClock{timestamp: now}, refresher)
	fixture := newGatekeeperFixture(t, manager, fixedClock{timestamp: now})

	raw, _ := manager.Encode(sessiontoken.Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: now.Add(-time.Second).UnixMilli(),
	})

	recorder := fixture.do(t, "/en/dashboard", raw, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var reissued string
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "task_session" {
			reissued = cookie.Value
		}
	}
	if reissued == "" {
		t.Fatalf("expected refreshed credentials written back to the cookie")
	}
	decoded := manager.Decode(context.Background(), reissued)
	if decoded == nil || decoded.AccessToken != "access-new" {
		t.Fatalf("expected re-issued cookie to carry the new access token")
	}
}
