package sessiontoken

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type countingRefresher struct {
	calls  int
	result RefreshResult
	err    error
}

func (refresher *countingRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	refresher.calls++
	return refresher.result, refresher.err
}

func newTestManager(t *testing.T, clock Clock, refresher Refresher) *Manager {
	t.Helper()
	manager, err := New(Config{
		SigningKey: []byte("test-signing-key"),
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

func TestNewRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{}
	if _, err := New(Config{Issuer: "taskboard", Refresher: refresher}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("key"), Refresher: refresher}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected ErrMissingIssuer, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("key"), Issuer: "taskboard"}); !errors.Is(err, ErrMissingRefresher) {
		t.Fatalf("expected ErrMissingRefresher, got %v", err)
	}
}

func TestEncodeRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}, &countingRefresher{})
	if _, err := manager.Encode(Token{}); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestDecodeFastPathSkipsRefresh(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{}
	manager := newTestManager(t, fixedClock{timestamp: now}, refresher)

	original := Token{
		Subject:                    "user-1",
		DisplayName:                "User One",
		Email:                      "user@example.com",
		AccessToken:                "access-current",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: now.Add(30 * time.Minute).UnixMilli(),
	}
	raw, encodeErr := manager.Encode(original)
	if encodeErr != nil {
		t.Fatalf("encode error: %v", encodeErr)
	}

	first := manager.Decode(context.Background(), raw)
	second := manager.Decode(context.Background(), raw)
	if first == nil || second == nil {
		t.Fatalf("expected decoded records")
	}
	if refresher.calls != 0 {
		t.Fatalf("expected zero refresh calls, got %d", refresher.calls)
	}
	if *first != *second {
		t.Fatalf("expected identical records, got %+v and %+v", *first, *second)
	}
	if first.AccessToken != "access-current" || first.Error != "" {
		t.Fatalf("unexpected record: %+v", *first)
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(t, fixedClock{timestamp: now}, &countingRefresher{})

	if manager.Decode(context.Background(), "") != nil {
		t.Fatalf("expected nil for empty token")
	}
	if manager.Decode(context.Background(), "not-a-jwt") != nil {
		t.Fatalf("expected nil for malformed token")
	}

	otherManager := newTestManager(t, fixedClock{timestamp: now}, &countingRefresher{})
	foreign, _ := otherManager.Encode(Token{Subject: "user-1"})
	tamperedManager, err := New(Config{
		SigningKey: []byte("different-signing-key"),
		Issuer:     "taskboard",
		Refresher:  &countingRefresher{},
		Clock:      fixedClock{timestamp: now},
	})
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	if tamperedManager.Decode(context.Background(), foreign) != nil {
		t.Fatalf("expected nil for token signed with a different key")
	}
}

func TestDecodeRefreshesExpiredAccessToken(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{result: RefreshResult{
		AccessToken:      "X",
		ExpiresInSeconds: 3600,
	}}
	manager := newTestManager(t, fixedClock{timestamp: now}, refresher)

	raw, _ := manager.Encode(Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: now.Add(-time.Second).UnixMilli(),
	})

	decoded := manager.Decode(context.Background(), raw)
	if decoded == nil {
		t.Fatalf("expected decoded record")
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refresher.calls)
	}
	if decoded.AccessToken != "X" {
		t.Fatalf("expected refreshed access token, got %q", decoded.AccessToken)
	}
	if decoded.Error != "" {
		t.Fatalf("expected no error tag, got %q", decoded.Error)
	}
	if decoded.AccessTokenExpiresAtMillis != now.Add(time.Hour).UnixMilli() {
		t.Fatalf("unexpected expiry %d", decoded.AccessTokenExpiresAtMillis)
	}
	if !decoded.Refreshed() {
		t.Fatalf("expected record to be flagged for re-issue")
	}
	if decoded.RefreshToken != "refresh-current" {
		t.Fatalf("expected original refresh token preserved, got %q", decoded.RefreshToken)
	}
}

func TestDecodeAdoptsRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{result: RefreshResult{
		AccessToken:      "access-new",
		ExpiresInSeconds: 1800,
		RefreshToken:     "refresh-rotated",
	}}
	manager := newTestManager(t, fixedClock{timestamp: now}, refresher)

	raw, _ := manager.Encode(Token{
		Subject:                    "user-1",
		RefreshToken:               "refresh-old",
		AccessTokenExpiresAtMillis: now.Add(-time.Minute).UnixMilli(),
	})

	decoded := manager.Decode(context.Background(), raw)
	if decoded == nil {
		t.Fatalf("expected decoded record")
	}
	if decoded.RefreshToken != "refresh-rotated" {
		t.Fatalf("expected rotated refresh token, got %q", decoded.RefreshToken)
	}
}

func TestDecodeWithoutRefreshTokenFailsClosedWithoutNetwork(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{}
	manager := newTestManager(t, fixedClock{timestamp: now}, refresher)

	raw, _ := manager.Encode(Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		AccessTokenExpiresAtMillis: now.Add(-time.Second).UnixMilli(),
	})

	decoded := manager.Decode(context.Background(), raw)
	if decoded == nil {
		t.Fatalf("expected decoded record")
	}
	if refresher.calls != 0 {
		t.Fatalf("expected zero refresh calls, got %d", refresher.calls)
	}
	if decoded.Error != ErrorNoRefreshToken {
		t.Fatalf("expected %q, got %q", ErrorNoRefreshToken, decoded.Error)
	}
	if decoded.AccessToken != "" {
		t.Fatalf("expected access token cleared, got %q", decoded.AccessToken)
	}
}

func TestDecodeRecordsProviderFailure(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	refresher := &countingRefresher{err: errors.New("token_endpoint.status: 400")}
	manager := newTestManager(t, fixedClock{timestamp: now}, refresher)

	raw, _ := manager.Encode(Token{
		Subject:                    "user-1",
		AccessToken:                "access-stale",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: now.Add(-time.Second).UnixMilli(),
	})

	decoded := manager.Decode(context.Background(), raw)
	if decoded == nil {
		t.Fatalf("expected decoded record despite refresh failure")
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refresher.calls)
	}
	if decoded.Error != ErrorRefreshFailed {
		t.Fatalf("expected %q, got %q", ErrorRefreshFailed, decoded.Error)
	}
	if decoded.AccessToken != "access-stale" {
		t.Fatalf("expected stale access token preserved, got %q", decoded.AccessToken)
	}
	if decoded.RefreshToken != "refresh-current" {
		t.Fatalf("expected refresh token preserved, got %q", decoded.RefreshToken)
	}
}

func TestUpdateTouchesProfileFieldsOnly(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}, &countingRefresher{})

	original := Token{
		Subject:                    "user-1",
		DisplayName:                "Before",
		Email:                      "before@example.com",
		AvatarURL:                  "https://example.com/before.png",
		AccessToken:                "access-current",
		RefreshToken:               "refresh-current",
		AccessTokenExpiresAtMillis: 42,
		Error:                      ErrorRefreshFailed,
	}
	newName := "After"
	newAvatar := "https://example.com/after.png"
	updated := manager.Update(original, ProfilePatch{DisplayName: &newName, AvatarURL: &newAvatar})

	if updated.DisplayName != "After" || updated.AvatarURL != newAvatar {
		t.Fatalf("expected patched profile, got %+v", updated)
	}
	if updated.Email != original.Email {
		t.Fatalf("expected untouched email, got %q", updated.Email)
	}
	if updated.AccessToken != original.AccessToken ||
		updated.RefreshToken != original.RefreshToken ||
		updated.AccessTokenExpiresAtMillis != original.AccessTokenExpiresAtMillis ||
		updated.Error != original.Error {
		t.Fatalf("expected credentials and error tag untouched, got %+v", updated)
	}
}

func TestDecodeRejectsExpiredSessionEnvelope(t *testing.T) {
	t.Parallel()

	issuedAt := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(t, fixedClock{timestamp: issuedAt}, &countingRefresher{})
	raw, _ := manager.Encode(Token{Subject: "user-1"})

	lateManager := newTestManager(t, fixedClock{timestamp: issuedAt.Add(DefaultSessionLifetime + time.Hour)}, &countingRefresher{})
	if lateManager.Decode(context.Background(), raw) != nil {
		t.Fatalf("expected nil once the session envelope expired")
	}
}
