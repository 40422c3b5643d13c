// Package auth verifies bearer tokens issued by the HTTP auth layer and
// extracts the identity a realtime connection is bound to. It never issues
// tokens itself.
package auth

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and tokens
	// without a user identifier.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned for well-formed tokens past their expiry.
	ErrExpired = errors.New("token expired")
)

// Identity is the user bound to a connection after verification.
type Identity struct {
	UserID      string
	DisplayName string
}

// Claims mirrors the payload written by the auth service. Older tokens carry
// the user id in "id" instead of "userId".
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId,omitempty"`
	LegacyID string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// Verifier checks HMAC-signed JWTs against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		})),
	}
}

// Verify validates signature and expiry of raw and returns the embedded identity.
func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "empty token")
	}

	claims := new(Claims)
	token, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc)
	if err != nil {
		if expiredOnly(err) {
			return Identity{}, errors.Wrap(ErrExpired, "verify token")
		}
		return Identity{}, errors.Wrapf(ErrInvalidToken, "verify token: %v", err)
	}
	if !token.Valid {
		return Identity{}, errors.Wrap(ErrInvalidToken, "token not valid")
	}

	id := claims.identity()
	if id.UserID == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "token carries no user id")
	}
	return id, nil
}

// expiredOnly reports whether err is an expiry on an otherwise authentic
// token. jwt validates claims before the signature and ORs both results, so
// an expired forgery carries the expiry bit too.
func expiredOnly(err error) bool {
	var verr *jwt.ValidationError
	if !errors.As(err, &verr) || verr.Errors&jwt.ValidationErrorExpired == 0 {
		return false
	}
	const untrusted = jwt.ValidationErrorMalformed |
		jwt.ValidationErrorUnverifiable |
		jwt.ValidationErrorSignatureInvalid
	return verr.Errors&untrusted == 0
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrInvalidKey
	}
	return v.secret, nil
}

func (c *Claims) identity() Identity {
	id := Identity{UserID: c.UserID, DisplayName: c.Name}
	if id.UserID == "" {
		id.UserID = c.LegacyID
	}
	if id.UserID == "" {
		id.UserID = c.Subject
	}
	if id.DisplayName == "" {
		id.DisplayName = c.Username
	}
	return id
}

// BearerToken extracts a token supplied at handshake time, either in the
// Authorization header or in the "token" query parameter. It returns "" when
// the request carries none.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
