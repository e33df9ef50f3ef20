package storage

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrBadToken = errors.New("invalid file token")

// URLSigner issues short-lived tokens granting read access to one path.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	return &URLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type fileClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

func (s *URLSigner) Sign(p string) (string, error) {
	now := s.now()
	claims := fileClaims{
		Path: p,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// URL returns the API path serving p, token included.
func (s *URLSigner) URL(p string) (string, error) {
	tok, err := s.Sign(p)
	if err != nil {
		return "", err
	}
	return "/files/" + p + "?token=" + url.QueryEscape(tok), nil
}

// Verify checks that token grants access to p.
func (s *URLSigner) Verify(p, token string) error {
	var claims fileClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.Path != p {
		return fmt.Errorf("%w: path mismatch", ErrBadToken)
	}
	return nil
}
