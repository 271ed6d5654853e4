package chatcontrol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// ErrInvalidPassword is returned by Authenticate for a wrong password.
var ErrInvalidPassword = errors.New("invalid password")

// AuthManager issues and validates access tokens. It is safe for
// concurrent use.
type AuthManager struct {
	mu       sync.RWMutex
	password string
	tokens   map[string]time.Time // token -> expiry
	secret   []byte
	counter  uint64
	now      func() time.Time
}

// NewAuthManager returns a manager accepting password. A random secret is
// generated for signing, so tokens do not survive a restart.
func NewAuthManager(password string) (*AuthManager, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.In("chatcontrol").Wrapf(err, "generate token secret")
	}
	return &AuthManager{
		password: password,
		tokens:   make(map[string]time.Time),
		secret:   secret,
		now:      time.Now,
	}, nil
}

// Authenticate checks password and returns a token valid for expiration.
func (am *AuthManager) Authenticate(password string, expiration time.Duration) (string, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !hmac.Equal([]byte(password), []byte(am.password)) {
		log.WithField("at", "chatcontrol.AuthManager.Authenticate").Warn("control_authentication_failed")
		return "", ErrInvalidPassword
	}

	am.counter++
	token := am.generateToken(am.now().UnixNano(), am.counter)
	am.tokens[token] = am.now().Add(expiration)

	log.WithFields(logger.Fields{
		"at":     "chatcontrol.AuthManager.Authenticate",
		"tokens": len(am.tokens),
	}).Debug("control_token_issued")
	return token, nil
}

// ValidateToken reports whether token was issued and has not expired.
// Expired tokens are forgotten.
func (am *AuthManager) ValidateToken(token string) bool {
	am.mu.RLock()
	expiry, ok := am.tokens[token]
	am.mu.RUnlock()
	if !ok {
		return false
	}
	if am.now().After(expiry) {
		am.RevokeToken(token)
		return false
	}
	return true
}

// RevokeToken forgets token.
func (am *AuthManager) RevokeToken(token string) {
	am.mu.Lock()
	delete(am.tokens, token)
	am.mu.Unlock()
}

// CleanupExpiredTokens drops every expired token and returns how many
// were removed.
func (am *AuthManager) CleanupExpiredTokens() int {
	now := am.now()
	removed := 0

	am.mu.Lock()
	for token, expiry := range am.tokens {
		if now.After(expiry) {
			delete(am.tokens, token)
			removed++
		}
	}
	am.mu.Unlock()

	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":      "chatcontrol.AuthManager.CleanupExpiredTokens",
			"removed": removed,
		}).Debug("expired_tokens_removed")
	}
	return removed
}

// TokenCount returns the number of stored tokens, expired or not.
func (am *AuthManager) TokenCount() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.tokens)
}

// ChangePassword replaces the password and revokes every token.
func (am *AuthManager) ChangePassword(password string) int {
	am.mu.Lock()
	defer am.mu.Unlock()
	revoked := len(am.tokens)
	am.password = password
	am.tokens = make(map[string]time.Time)
	log.WithFields(logger.Fields{
		"at":      "chatcontrol.AuthManager.ChangePassword",
		"revoked": revoked,
	}).Info("control_password_changed")
	return revoked
}

func (am *AuthManager) generateToken(timestamp int64, counter uint64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[8:], counter)
	h := hmac.New(sha256.New, am.secret)
	h.Write(buf[:])
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
