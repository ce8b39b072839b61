package security

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
)

func TestIssueAndVerify(t *testing.T) {
	j := NewJWT("secret", "talkcart")
	token, exp, err := j.Issue("vend-1", auth.RoleVendor)
	require.NoError(t, err)

	p, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "vend-1", p.UserID)
	assert.Equal(t, auth.RoleVendor, p.Role)
	assert.WithinDuration(t, exp, p.ExpiresAt, time.Second)

	sub, err := PeekSubject(token)
	require.NoError(t, err)
	assert.Equal(t, "vend-1", sub)
}

func TestVerifyRejects(t *testing.T) {
	j := NewJWT("secret", "talkcart")
	good, _, err := j.Issue("cust-1", auth.RoleCustomer)
	require.NoError(t, err)

	_, err = j.Verify(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrTokenRequired)

	_, err = NewJWT("other", "talkcart").Verify(context.Background(), good)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = NewJWT("secret", "someone-else").Verify(context.Background(), good)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	past := &JWT{Secret: []byte("secret"), Issuer: "talkcart", TTL: time.Minute, Now: func() time.Time { return time.Now().Add(-time.Hour) }}
	expired, _, err := past.Issue("cust-1", auth.RoleCustomer)
	require.NoError(t, err)
	_, err = j.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)

	noRole := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "cust-1",
		"iss": "talkcart",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := noRole.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = j.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestIssueValidatesInput(t *testing.T) {
	j := NewJWT("secret", "")
	_, _, err := j.Issue("", auth.RoleAdmin)
	assert.Error(t, err)
	_, _, err = j.Issue("u", auth.Role("guest"))
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}
