package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(userID string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           userID,
		Name:             "Ann",
	}
}

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier(testSecret)

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	legacy := Claims{LegacyID: "7", Username: "bob"}
	subject := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "s1"}}

	tests := []struct {
		name    string
		token   string
		want    Identity
		wantErr error
	}{
		{name: "valid", token: sign(t, jwt.SigningMethodHS256, testSecret, validClaims("u1")), want: Identity{UserID: "u1", DisplayName: "Ann"}},
		{name: "bearer prefix", token: "Bearer " + sign(t, jwt.SigningMethodHS256, testSecret, validClaims("u1")), want: Identity{UserID: "u1", DisplayName: "Ann"}},
		{name: "legacy id claim", token: sign(t, jwt.SigningMethodHS512, testSecret, legacy), want: Identity{UserID: "7", DisplayName: "bob"}},
		{name: "subject claim", token: sign(t, jwt.SigningMethodHS256, testSecret, subject), want: Identity{UserID: "s1"}},
		{name: "expired", token: sign(t, jwt.SigningMethodHS256, testSecret, expired), wantErr: ErrExpired},
		{name: "expired with wrong secret", token: sign(t, jwt.SigningMethodHS256, "attacker-secret", expired), wantErr: ErrInvalidToken},
		{name: "wrong secret", token: sign(t, jwt.SigningMethodHS256, "other", validClaims("u1")), wantErr: ErrInvalidToken},
		{name: "malformed", token: "not-a-jwt", wantErr: ErrInvalidToken},
		{name: "empty", token: "", wantErr: ErrInvalidToken},
		{name: "no user id", token: sign(t, jwt.SigningMethodHS256, testSecret, Claims{}), wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				for _, other := range []error{ErrExpired, ErrInvalidToken} {
					if other != tt.wantErr {
						assert.NotErrorIs(t, err, other)
					}
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifier_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("u1")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", BearerToken(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", BearerToken(r))

	assert.Empty(t, BearerToken(httptest.NewRequest("GET", "/ws", nil)))
}
