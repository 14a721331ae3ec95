package admin

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer  = "mailbot"
	tokenSubject = "admin"
	tokenTTL     = 24 * time.Hour
)

var (
	ErrNoPassword      = errors.New("admin password is not set")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
)

// Authenticator checks the single admin password and issues HS256 bearer
// tokens for the admin API.
type Authenticator struct {
	passwordHash []byte
	secret       []byte
	now          func() time.Time
}

// NewAuthenticator hashes password. An empty secret is replaced with a
// random one, so tokens do not survive a restart.
func NewAuthenticator(password, secret string) (*Authenticator, error) {
	if password == "" {
		return nil, ErrNoPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}

	return &Authenticator{passwordHash: hash, secret: key, now: time.Now}, nil
}

func (a *Authenticator) CheckPassword(password string) error {
	if bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		return ErrInvalidPassword
	}
	return nil
}

// IssueToken returns a signed token and the moment it expires.
func (a *Authenticator) IssueToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        ulid.Make().String(),
		Issuer:    tokenIssuer,
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify accepts only unexpired HS256 tokens issued by this service for the
// admin subject.
func (a *Authenticator) Verify(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(tokenSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
