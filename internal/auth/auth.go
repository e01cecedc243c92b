// Package auth decides who may join a room. Rooms listed in the login policy
// can be restricted to e-mail suffixes; identity is proven with an HS256 JWT
// carrying an "email" claim.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var (
	ErrForbidden    = errors.New("email not allowed in room")
	ErrInvalidToken = errors.New("invalid token")
)

type Role string

const (
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// RoomPolicy restricts one room, or every room starting with RoomName minus
// a trailing "*".
type RoomPolicy struct {
	RoomName      string   `json:"roomName"`
	EmailSuffixes []string `json:"emailSuffixes"`
	Admins        []string `json:"admins"`
}

type Policy struct {
	Rooms []RoomPolicy `json:"rooms"`
}

func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse login policy: %w", err)
	}
	return &p, nil
}

// Find returns the first entry matching roomID, or nil.
func (p *Policy) Find(roomID string) *RoomPolicy {
	if p == nil {
		return nil
	}
	for i := range p.Rooms {
		rp := &p.Rooms[i]
		if prefix, ok := strings.CutSuffix(rp.RoomName, "*"); ok {
			if strings.HasPrefix(roomID, prefix) {
				return rp
			}
		} else if rp.RoomName == roomID {
			return rp
		}
	}
	return nil
}

func (rp *RoomPolicy) allows(email string) bool {
	if len(rp.EmailSuffixes) == 0 {
		return true
	}
	for _, suffix := range rp.EmailSuffixes {
		if strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}

func (rp *RoomPolicy) isAdmin(email string) bool {
	for _, admin := range rp.Admins {
		if admin == email {
			return true
		}
	}
	return false
}

// Authorizer checks a join request against the login policy.
type Authorizer struct {
	policy atomic.Pointer[Policy]
	path   string
	secret []byte
	log    zerolog.Logger
}

// New builds an authorizer. An empty path means no room is restricted; an
// empty secret means tokens cannot be verified.
func New(path string, secret string, log zerolog.Logger) (*Authorizer, error) {
	a := &Authorizer{path: path, secret: []byte(secret), log: log}
	if path != "" {
		p, err := LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		a.policy.Store(p)
	}
	return a, nil
}

// NewWithPolicy builds an authorizer around an in-memory policy.
func NewWithPolicy(p *Policy, secret string, log zerolog.Logger) *Authorizer {
	a := &Authorizer{secret: []byte(secret), log: log}
	a.policy.Store(p)
	return a
}

// Authorize returns the role of email in roomID. Without credentials only
// unrestricted rooms can be joined. In a room with no admins listed everybody
// is an admin.
func (a *Authorizer) Authorize(roomID, email, token string) (Role, error) {
	rp := a.policy.Load().Find(roomID)
	if rp == nil {
		rp = &RoomPolicy{}
	}

	if email == "" || token == "" {
		if len(rp.EmailSuffixes) > 0 {
			return "", ErrForbidden
		}
		if len(rp.Admins) == 0 {
			return RoleAdmin, nil
		}
		return RoleGuest, nil
	}

	claimed, err := a.verify(token)
	if err != nil {
		return "", err
	}
	if claimed != email {
		return "", fmt.Errorf("%w: email mismatch", ErrInvalidToken)
	}
	if !rp.allows(email) {
		return "", ErrForbidden
	}
	if len(rp.Admins) == 0 || rp.isAdmin(email) {
		return RoleAdmin, nil
	}
	return RoleGuest, nil
}

func (a *Authorizer) verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	email, ok := (*claims)["email"].(string)
	if !ok || email == "" {
		return "", fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	return email, nil
}

// Sign issues a token for email. Used by tooling and tests.
func Sign(secret, email string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(ttl).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Reload rereads the policy file. The previous policy stays in effect when
// the file cannot be read.
func (a *Authorizer) Reload() error {
	if a.path == "" {
		return nil
	}
	p, err := LoadPolicy(a.path)
	if err != nil {
		return err
	}
	a.policy.Store(p)
	return nil
}

// Watch reloads the policy file every interval until ctx is done.
func (a *Authorizer) Watch(ctx context.Context, interval time.Duration) {
	if a.path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Reload(); err != nil {
				a.log.Error().Err(err).Str("path", a.path).Msg("failed to reload login policy")
			}
		}
	}
}
