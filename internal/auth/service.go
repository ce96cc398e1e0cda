// Package auth issues and verifies the credentials that identify club
// members: anonymous sign-in, exchange of pre-issued custom tokens, and
// the per-connection auth state that the identity resolver watches.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intermernet/climbsignups/internal/logger"
)

// Credential is a signed-in user together with the session token that
// proves it.
type Credential struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	Anonymous bool      `json:"anonymous"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service is the token auth capability.
type Service struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
	newUID func() string
}

// NewService creates a Service that signs with secret. Session tokens are
// valid for ttl; an anonymous identity lives exactly as long as its token.
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		newUID: uuid.NewString,
	}
}

// SignInAnonymously creates a brand-new user id and a session for it.
func (s *Service) SignInAnonymously(_ context.Context) (Credential, error) {
	uid := s.newUID()
	cred, err := s.issue(uid, true)
	if err != nil {
		return Credential{}, fmt.Errorf("anonymous sign-in: %w", err)
	}
	logger.Info.Printf("Anonymous sign-in created user %s", uid)
	return cred, nil
}

// SignInWithCustomToken exchanges a pre-issued custom token for a session
// bound to the user id the token names.
func (s *Service) SignInWithCustomToken(_ context.Context, customToken string) (Credential, error) {
	claims, err := ValidateJWT(customToken, s.secret, KindCustom)
	if err != nil {
		return Credential{}, fmt.Errorf("custom token sign-in: %w", err)
	}
	cred, err := s.issue(claims.UserID, false)
	if err != nil {
		return Credential{}, fmt.Errorf("custom token sign-in: %w", err)
	}
	logger.Info.Printf("Custom token sign-in for user %s", claims.UserID)
	return cred, nil
}

// MintCustomToken issues a custom token for uid. Operators hand these out
// so a member can keep the same identity on another device.
func (s *Service) MintCustomToken(uid string, ttl time.Duration) (string, error) {
	return GenerateJWT(AppClaims{UserID: uid, Kind: KindCustom}, s.secret, s.now(), ttl)
}

// Verify checks a session token and returns the credential it carries.
func (s *Service) Verify(token string) (Credential, error) {
	claims, err := ValidateJWT(token, s.secret, KindSession)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{UserID: claims.UserID, Token: token, Anonymous: claims.Anonymous}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

func (s *Service) issue(uid string, anonymous bool) (Credential, error) {
	now := s.now()
	token, err := GenerateJWT(AppClaims{UserID: uid, Kind: KindSession, Anonymous: anonymous}, s.secret, now, s.ttl)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		UserID:    uid,
		Token:     token,
		Anonymous: anonymous,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}
