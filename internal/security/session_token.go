package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrMalformedToken = errors.New("malformed session token")

type SessionClaims struct {
	jwt.RegisteredClaims
}

func (c *SessionClaims) ClientID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrMalformedToken
	}
	return uint(id), nil
}

// SessionTokenManager signs opaque bearer tokens and derives the lookup hash
// stored alongside a session. The signature only proves the token was minted
// here; expiry and revocation are decided by the stored session row.
type SessionTokenManager struct {
	issuer string
	secret []byte
	pepper []byte
}

func NewSessionTokenManager(issuer, secret, pepper string) *SessionTokenManager {
	if pepper == "" {
		pepper = secret
	}
	return &SessionTokenManager{
		issuer: issuer,
		secret: []byte(secret),
		pepper: []byte(pepper),
	}
}

// Sign returns the raw token together with its token id.
func (m *SessionTokenManager) Sign(clientID uint, issuedAt, expiresAt time.Time) (string, string, error) {
	jti := uuid.NewString()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", clientID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        jti,
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", err
	}
	return raw, jti, nil
}

// Parse checks the signature and issuer. Time based claims are
// not enforced here.
func (m *SessionTokenManager) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !tok.Valid {
		return nil, ErrMalformedToken
	}
	if claims.Issuer != m.issuer || claims.ID == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// Hash is the value persisted in place of the raw token.
func (m *SessionTokenManager) Hash(raw string) string {
	mac := hmac.New(sha256.New, m.pepper)
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
