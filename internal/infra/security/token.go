package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
)

const defaultTTL = 2 * time.Hour

// JWT verifies and mints HMAC signed bearer tokens. Tokens carry the user in "sub" and
// the chat role in "role".
type JWT struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

type chatClaims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

func NewJWT(secret, issuer string) *JWT {
	return &JWT{Secret: []byte(secret), Issuer: issuer, TTL: defaultTTL}
}

func (j *JWT) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Issue signs a token for the principal. Credential issuance belongs to the identity provider;
// this exists for local tooling and tests.
func (j *JWT) Issue(userID string, role auth.Role) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return "", time.Time{}, err
	}
	ttl := j.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := j.now()
	exp := now.Add(ttl)
	claims := chatClaims{
		Role: string(role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, exp, nil
}

func (j *JWT) Verify(ctx context.Context, token string) (auth.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, auth.ErrTokenRequired
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg(), jwtlib.SigningMethodHS384.Alg(), jwtlib.SigningMethodHS512.Alg()}),
		jwtlib.WithTimeFunc(j.now),
		jwtlib.WithExpirationRequired(),
	}
	if j.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(j.Issuer))
	}
	var claims chatClaims
	parsed, err := jwtlib.ParseWithClaims(token, &claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return auth.Principal{}, auth.ErrTokenExpired
		}
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return auth.Principal{}, auth.ErrTokenInvalid
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	p := auth.Principal{UserID: claims.Subject, Role: role}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// PeekSubject reads the subject of a token without verifying it. Clients use it to key
// their private cache; the server never trusts it.
func PeekSubject(token string) (string, error) {
	var claims jwtlib.RegisteredClaims
	if _, _, err := jwtlib.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return "", auth.ErrTokenInvalid
	}
	return claims.Subject, nil
}

var _ auth.TokenVerifier = (*JWT)(nil)
