package admin

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer  = "subjectfix"
	tokenSubject = "admin"
	tokenTTL     = 24 * time.Hour
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
	ErrNoPassword      = errors.New("admin password is not configured")
)

type AuthService struct {
	adminPasswordHash []byte
	jwtSecret         []byte
	ephemeral         bool
	now               func() time.Time
}

type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

func NewAuthService(adminPassword, jwtSecret string) (*AuthService, error) {
	if adminPassword == "" {
		return nil, ErrNoPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a := &AuthService{adminPasswordHash: hash, jwtSecret: []byte(jwtSecret), now: time.Now}
	// Without a configured secret, tokens die with the process.
	if jwtSecret == "" {
		a.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(a.jwtSecret); err != nil {
			return nil, err
		}
		a.ephemeral = true
	}
	return a, nil
}

// Ephemeral reports whether the signing key was generated at startup.
func (a *AuthService) Ephemeral() bool {
	return a.ephemeral
}

func (a *AuthService) ValidatePassword(password string) error {
	if err := bcrypt.CompareHashAndPassword(a.adminPasswordHash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

func (a *AuthService) GenerateToken() (string, error) {
	now := a.now()
	claims := &Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   tokenSubject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(tokenSubject),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Admin {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
