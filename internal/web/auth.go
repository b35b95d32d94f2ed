package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/lmoraes/taskboard/internal/gatekit"
	"github.com/lmoraes/taskboard/internal/googleauth"
	"github.com/lmoraes/taskboard/internal/taskkit"
	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

// SignInFlow is the provider-facing surface consumed by the auth handlers.
type SignInFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	VerifyIdentity(ctx context.Context, exchanged *oauth2.Token) (googleauth.Identity, error)
}

// AuthDeps wires the auth endpoints.
type AuthDeps struct {
	Flow     SignInFlow
	Sessions *sessiontoken.Manager
	States   gatekit.StateStore
	Users    taskkit.UserStore
	Cookie   gatekit.CookieSettings
	Clock    sessiontoken.Clock
	Logger   *zap.Logger
}

// MountAuthRoutes registers /auth/google/login, /auth/google/callback,
// /auth/logout, /api/me, and /api/session.
func MountAuthRoutes(router gin.IRouter, deps AuthDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = sessiontoken.NewSystemClock()
	}

	errorPage := "/" + gatekit.DefaultLocale + "/auth/error"

	router.GET("/auth/google/login", func(contextGin *gin.Context) {
		state, stateErr := deps.States.Issue(contextGin)
		if stateErr != nil {
			logger.Error("state issue failed",
				zap.String("code", "auth.login.state_issue"),
				zap.Error(stateErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}
		contextGin.Redirect(http.StatusFound, deps.Flow.AuthCodeURL(state))
	})

	router.GET("/auth/google/callback", func(contextGin *gin.Context) {
		if providerError := contextGin.Query("error"); providerError != "" {
			logger.Warn("provider declined sign-in",
				zap.String("code", "auth.callback.provider_error"),
				zap.String("provider_error", providerError))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		if consumeErr := deps.States.Consume(contextGin, contextGin.Query("state")); consumeErr != nil {
			logger.Warn("state verification failed",
				zap.String("code", "auth.callback.state_mismatch"),
				zap.Error(consumeErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		code := contextGin.Query("code")
		if code == "" {
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		exchanged, exchangeErr := deps.Flow.Exchange(contextGin, code)
		if exchangeErr != nil {
			logger.Warn("code exchange failed",
				zap.String("code", "auth.callback.exchange_failed"),
				zap.Error(exchangeErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		identity, verifyErr := deps.Flow.VerifyIdentity(contextGin, exchanged)
		if verifyErr != nil {
			logger.Warn("identity verification failed",
				zap.String("code", "auth.callback.verify_failed"),
				zap.Error(verifyErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		user, upsertErr := deps.Users.UpsertGoogleUser(contextGin, identity.GoogleSub, identity.Email, identity.DisplayName, identity.AvatarURL)
		if upsertErr != nil {
			logger.Error("user upsert failed",
				zap.String("code", "auth.callback.upsert_failed"),
				zap.Error(upsertErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		expiresAtMillis := clock.Now().Add(time.Hour).UnixMilli()
		if !exchanged.Expiry.IsZero() {
			expiresAtMillis = exchanged.Expiry.UnixMilli()
		}
		encoded, encodeErr := deps.Sessions.Encode(sessiontoken.Token{
			Subject:                    user.ID,
			DisplayName:                user.Name,
			Email:                      user.Email,
			AvatarURL:                  user.AvatarURL,
			AccessToken:                exchanged.AccessToken,
			RefreshToken:               exchanged.RefreshToken,
			AccessTokenExpiresAtMillis: expiresAtMillis,
		})
		if encodeErr != nil {
			logger.Error("session encode failed",
				zap.String("code", "auth.callback.encode_failed"),
				zap.Error(encodeErr))
			contextGin.Redirect(http.StatusFound, errorPage)
			return
		}

		gatekit.WriteSessionCookie(contextGin.Writer, deps.Cookie, encoded)
		contextGin.Redirect(http.StatusFound, "/"+gatekit.DefaultLocale+"/dashboard")
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		gatekit.ClearSessionCookie(contextGin.Writer, deps.Cookie)
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/api/me", func(contextGin *gin.Context) {
		session := gatekit.SessionFromContext(contextGin)
		if session == nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		user, findErr := deps.Users.FindUser(contextGin, session.Subject)
		if findErr != nil {
			if errors.Is(findErr, taskkit.ErrUserNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.me.profile_missing"),
					zap.String("user_id", session.Subject))
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.me.profile_error"),
				zap.String("user_id", session.Subject),
				zap.Error(findErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "InternalError"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":    user.ID,
			"user_email": user.Email,
			"display":    user.Name,
			"avatar_url": user.AvatarURL,
			"expires":    time.UnixMilli(session.AccessTokenExpiresAtMillis).UTC(),
		})
	})

	router.PATCH("/api/session", func(contextGin *gin.Context) {
		session := gatekit.SessionFromContext(contextGin)
		if session == nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var inbound struct {
			DisplayName *string `json:"display_name"`
			Email       *string `json:"email"`
			AvatarURL   *string `json:"avatar_url"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "InvalidBody"})
			return
		}
		updated := deps.Sessions.Update(*session, sessiontoken.ProfilePatch{
			DisplayName: inbound.DisplayName,
			Email:       inbound.Email,
			AvatarURL:   inbound.AvatarURL,
		})
		encoded, encodeErr := deps.Sessions.Encode(updated)
		if encodeErr != nil {
			logger.Error("session update encode failed",
				zap.String("code", "api.session.encode_failed"),
				zap.String("user_id", session.Subject),
				zap.Error(encodeErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "InternalError"})
			return
		}
		gatekit.WriteSessionCookie(contextGin.Writer, deps.Cookie, encoded)
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":    updated.Subject,
			"user_email": updated.Email,
			"display":    updated.DisplayName,
			"avatar_url": updated.AvatarURL,
		})
	})
}
