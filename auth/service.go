// Package auth handles credential verification, session tokens and account
// lifecycle (email verification, password reset, ban/mute moderation).
package auth

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"crypto/rand"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/ratelimit"
	"github.com/highwizardry/gameserver/registry"
	"github.com/highwizardry/gameserver/validate"
)

// Failure messages. Deliberately uniform where account existence must not
// leak.
const (
	msgBadCredentials = "Invalid username or password"
	msgBanned         = "This account is banned. Contact support for assistance."
	msgResetUniform   = "If an account exists for that username or email, a reset link has been sent."
)

const resetTokenLifetime = time.Hour

var ErrRateLimited = errors.New("rate limited")

// dummyHash keeps the cost of a failed lookup close to a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("placeholder-password"), bcrypt.DefaultCost)

// Service implements the auth operations. Password hashing uses bcrypt at
// the default cost (10).
type Service struct {
	store         persistence.Store
	players       *registry.Players
	tokens        *tokenStore
	resetLimiter  *ratelimit.Limiter
	resendLimiter *ratelimit.Limiter
	tokenLifetime time.Duration
	startLocation string
	bcryptCost    int
}

func NewService(store persistence.Store, players *registry.Players, tokenLifetime time.Duration, startLocation string) *Service {
	if tokenLifetime <= 0 {
		tokenLifetime = TokenLifetime
	}
	return &Service{
		store:         store,
		players:       players,
		tokens:        newTokenStore(),
		resetLimiter:  ratelimit.New(time.Hour, 3),
		resendLimiter: ratelimit.New(10*time.Minute, 3),
		tokenLifetime: tokenLifetime,
		startLocation: startLocation,
		bcryptCost:    bcrypt.DefaultCost,
	}
}

// SetBcryptCost lowers the KDF cost. Only tests should call this.
func (s *Service) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

// UseResetLimiter swaps the password-reset limiter for a shared instance so
// the gateway's limiter set stays the single source of throttling state.
func (s *Service) UseResetLimiter(l *ratelimit.Limiter) {
	s.resetLimiter = l
}

// CleanupLimiters drops expired limiter windows. Called periodically by the
// gateway so the per-account maps do not grow without bound.
func (s *Service) CleanupLimiters() {
	s.resetLimiter.Cleanup()
	s.resendLimiter.Cleanup()
}

// Register creates an account plus its player record and issues a token.
func (s *Service) Register(username, password, email string) models.AuthResult {
	if err := validate.Username(username); err != nil {
		return authFail(err.Error())
	}
	if err := validate.Password(password); err != nil {
		return authFail(err.Error())
	}
	if email != "" {
		if err := validate.Email(email); err != nil {
			return authFail(err.Error())
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		logger.Log.Errorf("bcrypt hash failed: %v", err)
		return authFail("Internal error")
	}

	user := &models.User{
		PlayerID:     uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Email:        email,
		CreatedAt:    time.Now().UTC(),
	}
	if email != "" {
		user.VerificationCode = sixDigitCode()
	}

	if err := s.store.CreateUser(user); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return authFail("Username already exists")
		}
		logger.Log.Errorf("create user %s: %v", username, err)
		return authFail("Internal error")
	}

	player, err := s.ensurePlayer(user)
	if err != nil {
		logger.Log.Errorf("create player for %s: %v", username, err)
		return authFail("Internal error")
	}

	token := s.tokens.issue(user.PlayerID, user.Username, s.tokenLifetime)
	return s.authSuccess(user, player, token)
}

// Login verifies credentials. Expired bans and mutes are cleared on the way
// through. Failures never reveal whether the username exists.
func (s *Service) Login(username, password string) models.AuthResult {
	user, err := s.store.GetUser(username)
	if err != nil {
		// Burn a hash comparison so missing accounts cost the same.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return authFail(msgBadCredentials)
	}

	s.clearExpiredModeration(user)

	if user.Banned {
		return authFail(msgBanned)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return authFail(msgBadCredentials)
	}

	player, err := s.ensurePlayer(user)
	if err != nil {
		logger.Log.Errorf("load player for %s: %v", username, err)
		return authFail("Internal error")
	}

	token := s.tokens.issue(user.PlayerID, user.Username, s.tokenLifetime)
	return s.authSuccess(user, player, token)
}

// Authenticate resumes a session from a token. A banned account with a
// still-valid token is rejected.
func (s *Service) Authenticate(tokenValue string) models.AuthResult {
	token, ok := s.tokens.lookup(tokenValue)
	if !ok {
		return authFail("Invalid or expired session")
	}

	user, err := s.store.GetUserByPlayerID(token.PlayerID)
	if err != nil {
		return authFail("Invalid or expired session")
	}

	s.clearExpiredModeration(user)
	if user.Banned {
		s.tokens.revoke(tokenValue)
		return authFail(msgBanned)
	}

	player, err := s.ensurePlayer(user)
	if err != nil {
		logger.Log.Errorf("load player for %s: %v", user.Username, err)
		return authFail("Internal error")
	}

	return s.authSuccess(user, player, token)
}

// Logout revokes the session token.
func (s *Service) Logout(tokenValue string) {
	s.tokens.revoke(tokenValue)
}

// RequestPasswordReset always answers with the same uniform message. The
// attempt counts against both the account key and the source address.
func (s *Service) RequestPasswordReset(usernameOrEmail, sourceAddr string) models.Result {
	if !s.resetLimiter.IsAllowed("addr:"+sourceAddr) || !s.resetLimiter.IsAllowed("acct:"+strings.ToLower(usernameOrEmail)) {
		return models.Fail(models.KindRateLimited, "Too many reset requests. Try again later.")
	}

	user, err := s.store.GetUser(usernameOrEmail)
	if errors.Is(err, persistence.ErrNotFound) {
		user, err = s.store.GetUserByEmail(usernameOrEmail)
	}
	if err == nil {
		expires := time.Now().Add(resetTokenLifetime)
		user.ResetToken = generateResetToken()
		user.ResetTokenExpires = &expires
		if err := s.store.UpdateUser(user); err != nil {
			logger.Log.Errorf("store reset token for %s: %v", user.Username, err)
		} else {
			// Mail delivery is an external collaborator; the token is
			// logged at debug level for operator-assisted resets.
			logger.Log.Debugf("password reset token issued for %s", user.Username)
		}
	}

	return models.Ok(map[string]interface{}{"message": msgResetUniform})
}

// ResetPassword validates and consumes a reset token exactly once.
func (s *Service) ResetPassword(tokenValue, newPassword string) models.Result {
	if err := validate.Password(newPassword); err != nil {
		return models.Fail(models.KindInvalidInput, err.Error())
	}

	users, err := s.store.GetAllUsers()
	if err != nil {
		return models.Fail(models.KindInternal, "Internal error")
	}

	var match *models.User
	for _, u := range users {
		if u.ResetToken != "" && ConstantTimeEqual(u.ResetToken, tokenValue) {
			match = u
		}
	}
	if match == nil || match.ResetTokenExpires == nil || time.Now().After(*match.ResetTokenExpires) {
		return models.Fail(models.KindUnauthorized, "Invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return models.Fail(models.KindInternal, "Internal error")
	}

	match.PasswordHash = string(hash)
	match.ResetToken = ""
	match.ResetTokenExpires = nil
	if err := s.store.UpdateUser(match); err != nil {
		return models.Fail(models.KindTransient, "Could not save new password")
	}

	s.tokens.revokePlayer(match.PlayerID)
	return models.Ok(map[string]interface{}{"message": "Password updated"})
}

// VerifyEmail consumes the 6-digit verification code.
func (s *Service) VerifyEmail(username, code string) models.Result {
	user, err := s.store.GetUser(username)
	if err != nil {
		return models.Fail(models.KindUnauthorized, "Verification failed")
	}
	if user.VerificationCode == "" || !ConstantTimeEqual(user.VerificationCode, code) {
		return models.Fail(models.KindUnauthorized, "Verification failed")
	}

	user.EmailVerified = true
	user.VerificationCode = ""
	if err := s.store.UpdateUser(user); err != nil {
		return models.Fail(models.KindTransient, "Could not save verification")
	}
	return models.Ok(map[string]interface{}{"message": "Email verified"})
}

// ResendVerification issues a fresh code, rate-limited per account.
func (s *Service) ResendVerification(username, sourceAddr string) models.Result {
	if !s.resendLimiter.IsAllowed("acct:" + strings.ToLower(username)) {
		return models.Fail(models.KindRateLimited, "Too many requests. Try again later.")
	}

	user, err := s.store.GetUser(username)
	if err != nil || user.Email == "" || user.EmailVerified {
		// Uniform response; do not reveal account state.
		return models.Ok(map[string]interface{}{"message": "If verification is pending, a new code has been sent."})
	}

	user.VerificationCode = sixDigitCode()
	if err := s.store.UpdateUser(user); err != nil {
		return models.Fail(models.KindTransient, "Could not issue a new code")
	}
	return models.Ok(map[string]interface{}{"message": "If verification is pending, a new code has been sent."})
}

// AddEmail attaches an email to an account that registered without one.
func (s *Service) AddEmail(username, email string) models.Result {
	if err := validate.Email(email); err != nil {
		return models.Fail(models.KindInvalidInput, err.Error())
	}

	user, err := s.store.GetUser(username)
	if err != nil {
		return models.Fail(models.KindNotFound, "Account not found")
	}
	if _, err := s.store.GetUserByEmail(email); err == nil {
		return models.Fail(models.KindConflict, "Email is already in use")
	}

	user.Email = email
	user.EmailVerified = false
	user.VerificationCode = sixDigitCode()
	if err := s.store.UpdateUser(user); err != nil {
		return models.Fail(models.KindTransient, "Could not save email")
	}
	return models.Ok(map[string]interface{}{"message": "Verification code sent"})
}

// SetBanStatus flips the ban flag atomically and records an expiry. Banning
// also revokes live sessions.
func (s *Service) SetBanStatus(username string, banned bool, duration time.Duration, reason string) models.Result {
	user, err := s.store.GetUser(username)
	if err != nil {
		return models.Fail(models.KindNotFound, "Account not found")
	}

	user.Banned = banned
	user.BanReason = reason
	user.BanExpiresAt = nil
	if banned && duration > 0 {
		expires := time.Now().Add(duration)
		user.BanExpiresAt = &expires
	}

	if err := s.store.UpdateUser(user); err != nil {
		return models.Fail(models.KindTransient, "Could not save ban status")
	}
	if banned {
		s.tokens.revokePlayer(user.PlayerID)
	}
	return models.Ok(map[string]interface{}{"banned": banned})
}

// SetMuteStatus flips the mute flag atomically and records an expiry.
func (s *Service) SetMuteStatus(username string, muted bool, duration time.Duration) models.Result {
	user, err := s.store.GetUser(username)
	if err != nil {
		return models.Fail(models.KindNotFound, "Account not found")
	}

	user.Muted = muted
	user.MuteExpiresAt = nil
	if muted && duration > 0 {
		expires := time.Now().Add(duration)
		user.MuteExpiresAt = &expires
	}

	if err := s.store.UpdateUser(user); err != nil {
		return models.Fail(models.KindTransient, "Could not save mute status")
	}
	return models.Ok(map[string]interface{}{"muted": muted})
}

// IsMuted reads the mute flag, lazily clearing an expired mute.
func (s *Service) IsMuted(playerID string) bool {
	user, err := s.store.GetUserByPlayerID(playerID)
	if err != nil {
		return false
	}
	if user.Muted && user.MuteExpiresAt != nil && time.Now().After(*user.MuteExpiresAt) {
		user.Muted = false
		user.MuteExpiresAt = nil
		if err := s.store.UpdateUser(user); err != nil {
			logger.Log.Warnf("clear expired mute for %s: %v", user.Username, err)
		}
		return false
	}
	return user.Muted
}

// clearExpiredModeration drops bans and mutes whose expiry has passed.
func (s *Service) clearExpiredModeration(user *models.User) {
	changed := false
	now := time.Now()
	if user.Banned && user.BanExpiresAt != nil && now.After(*user.BanExpiresAt) {
		user.Banned = false
		user.BanExpiresAt = nil
		user.BanReason = ""
		changed = true
	}
	if user.Muted && user.MuteExpiresAt != nil && now.After(*user.MuteExpiresAt) {
		user.Muted = false
		user.MuteExpiresAt = nil
		changed = true
	}
	if changed {
		if err := s.store.UpdateUser(user); err != nil {
			logger.Log.Warnf("clear expired moderation for %s: %v", user.Username, err)
		}
	}
}

// ensurePlayer creates the player record on first login.
func (s *Service) ensurePlayer(user *models.User) (*models.Player, error) {
	p, err := s.players.Get(user.PlayerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	fresh := models.NewPlayer(user.PlayerID, user.Username, s.startLocation)
	if err := s.players.Create(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Service) authSuccess(user *models.User, player *models.Player, token *Token) models.AuthResult {
	return models.AuthResult{
		Success:                true,
		PlayerID:               user.PlayerID,
		Username:               user.Username,
		Token:                  token.Value,
		PlayerData:             player,
		EmailVerified:          user.EmailVerified,
		NeedsEmailVerification: user.Email != "" && !user.EmailVerified,
		NeedsEmailSetup:        user.Email == "",
		Muted:                  user.Muted,
		Banned:                 user.Banned,
	}
}

func authFail(message string) models.AuthResult {
	return models.AuthResult{Success: false, Message: message}
}

func sixDigitCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return fmt.Sprintf("%06d", n.Int64())
}
