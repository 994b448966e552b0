package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

const (
	testIssuer   = "identity"
	testAudience = "money-service"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func claimsFor(uid, role string) Claims {
	now := time.Now()
	return Claims{
		UserID: uid,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, c Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifier_ParseAndValidate(t *testing.T) {
	key := newKey(t)
	v := NewVerifier(&key.PublicKey, testIssuer, testAudience)

	claims, err := v.ParseAndValidate(sign(t, key, claimsFor("host-1", "admin")))
	require.NoError(t, err)
	assert.Equal(t, "host-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	wrongIssuer := claimsFor("host-1", "")
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := claimsFor("host-1", "")
	wrongAudience.Audience = jwt.ClaimStrings{"billing"}
	expired := claimsFor("host-1", "")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("host-1", "")).SignedString([]byte("secret"))
	require.NoError(t, err)

	rejected := map[string]string{
		"wrong issuer":   sign(t, key, wrongIssuer),
		"wrong audience": sign(t, key, wrongAudience),
		"missing uid":    sign(t, key, claimsFor("", "admin")),
		"expired":        sign(t, key, expired),
		"other key":      sign(t, newKey(t), claimsFor("host-1", "")),
		"hmac algorithm": hs,
		"not a token":    "abc.def.ghi",
	}
	for name, token := range rejected {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAndValidate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAuthMiddleware_Require(t *testing.T) {
	key := newKey(t)
	am := NewAuthMiddleware(NewVerifier(&key.PublicKey, testIssuer, testAudience), zap.NewNop())

	var seen domain.Identity
	h := am.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/rpc/getEarnings", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusUnauthorized, serve("Basic dXNlcjpwYXNz"))
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+sign(t, key, claimsFor("", ""))))

	require.Equal(t, http.StatusOK, serve("Bearer "+sign(t, key, claimsFor("guest-1", "superuser"))))
	assert.Equal(t, domain.Identity{UserID: "guest-1", Role: domain.RoleUser}, seen)

	require.Equal(t, http.StatusOK, serve("Bearer "+sign(t, key, claimsFor("admin-1", "admin"))))
	assert.Equal(t, domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}, seen)
}

func TestLoadRSAPublicKeyFromPEM(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	pkix := filepath.Join(dir, "pkix.pem")
	require.NoError(t, os.WriteFile(pkix, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	pkcs1 := filepath.Join(dir, "pkcs1.pem")
	require.NoError(t, os.WriteFile(pkcs1, pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}), 0o600))
	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not pem"), 0o600))

	for _, path := range []string{pkix, pkcs1} {
		pub, err := LoadRSAPublicKeyFromPEM(path)
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(pub))
	}

	_, err = LoadRSAPublicKeyFromPEM(junk)
	assert.Error(t, err)
	_, err = LoadRSAPublicKeyFromPEM(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)
}
