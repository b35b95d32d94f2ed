package sessiontoken

import "time"

// Error tags recorded on a token when a refresh attempt cannot produce a
// usable access token. Once set, the token is invalid for protected access
// even if the wall clock has not reached the expiry.
const (
	ErrorRefreshFailed  = "RefreshAccessTokenError"
	ErrorNoRefreshToken = "NoRefreshTokenError"
)

// Token is the decoded session record carried in the session cookie.
type Token struct {
	Subject                    string
	DisplayName                string
	Email                      string
	AvatarURL                  string
	AccessToken                string
	RefreshToken               string
	AccessTokenExpiresAtMillis int64
	Error                      string
	IssuedAt                   time.Time

	refreshed bool
}

// AccessTokenValid reports whether the stored access token can be reused
// as-is at the given instant.
func (token *Token) AccessTokenValid(now time.Time) bool {
	return now.UnixMilli() < token.AccessTokenExpiresAtMillis
}

// Refreshed reports whether this record was minted by a successful refresh
// during decode and therefore carries credentials the transport cookie does
// not yet hold.
func (token *Token) Refreshed() bool {
	return token.refreshed
}

// ProfilePatch carries the profile fields an explicit session update may
// overwrite. Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string
	Email       *string
	AvatarURL   *string
}
