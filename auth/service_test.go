package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/ratelimit"
	"github.com/highwizardry/gameserver/registry"
)

type AuthServiceSuite struct {
	suite.Suite
	store   *persistence.MemoryStore
	players *registry.Players
	svc     *Service
}

func (s *AuthServiceSuite) SetupTest() {
	logger.InitNop()
	s.store = persistence.NewMemoryStore()
	s.players = registry.NewPlayers(s.store)
	s.svc = NewService(s.store, s.players, time.Hour, "town-square")
	s.svc.SetBcryptCost(bcrypt.MinCost)
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) TestRegisterCreatesAccountAndPlayer() {
	res := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(res.Success, res.Message)
	s.NotEmpty(res.PlayerID)
	s.NotEmpty(res.Token)
	s.Len(res.Token, 32)
	s.True(res.NeedsEmailSetup)
	s.False(res.NeedsEmailVerification)

	s.Require().NotNil(res.PlayerData)
	s.Equal("town-square", res.PlayerData.Location)
	s.Equal(1, res.PlayerData.Level)
	s.Equal(100, res.PlayerData.Health)
}

func (s *AuthServiceSuite) TestRegisterWithEmailNeedsVerification() {
	res := s.svc.Register("alice", "hunter2x", "alice@example.com")
	s.Require().True(res.Success, res.Message)
	s.True(res.NeedsEmailVerification)
	s.False(res.NeedsEmailSetup)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	s.Len(user.VerificationCode, 6)
	s.False(user.EmailVerified)
}

func (s *AuthServiceSuite) TestRegisterRejectsDuplicate() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	res := s.svc.Register("alice", "different", "")
	s.False(res.Success)
	s.Equal("Username already exists", res.Message)

	// Case variants collide too.
	res = s.svc.Register("ALICE", "different", "")
	s.False(res.Success)
	s.Equal("Username already exists", res.Message)
}

func (s *AuthServiceSuite) TestRegisterRaceYieldsOneAccount() {
	const racers = 8
	var wg sync.WaitGroup
	results := make([]bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.svc.Register("alice", "hunter2x", "").Success
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	s.Equal(1, wins, "exactly one concurrent registration must succeed")
}

func (s *AuthServiceSuite) TestRegisterValidatesInput() {
	s.False(s.svc.Register("ab", "hunter2x", "").Success)
	s.False(s.svc.Register("alice", "short", "").Success)
	s.False(s.svc.Register("admin", "hunter2x", "").Success)
	s.False(s.svc.Register("alice", "hunter2x", "not-an-email").Success)
}

func (s *AuthServiceSuite) TestLoginRoundTrip() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	res := s.svc.Login("alice", "hunter2x")
	s.Require().True(res.Success, res.Message)
	s.Equal("alice", res.Username)
	s.NotNil(res.PlayerData)
}

func (s *AuthServiceSuite) TestLoginFailuresAreUniform() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	wrongPass := s.svc.Login("alice", "wrong-pass")
	noAccount := s.svc.Login("nobody", "wrong-pass")

	s.False(wrongPass.Success)
	s.False(noAccount.Success)
	s.Equal(wrongPass.Message, noAccount.Message, "failure message must not reveal account existence")
}

func (s *AuthServiceSuite) TestAuthenticateResumesSession() {
	reg := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(reg.Success)

	res := s.svc.Authenticate(reg.Token)
	s.Require().True(res.Success, res.Message)
	s.Equal(reg.PlayerID, res.PlayerID)
}

func (s *AuthServiceSuite) TestLogoutRevokesToken() {
	reg := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(reg.Success)

	s.svc.Logout(reg.Token)
	s.False(s.svc.Authenticate(reg.Token).Success)
}

func (s *AuthServiceSuite) TestAuthenticateRejectsGarbageToken() {
	s.False(s.svc.Authenticate("deadbeefdeadbeefdeadbeefdeadbeef").Success)
	s.False(s.svc.Authenticate("").Success)
}

func (s *AuthServiceSuite) TestBanBlocksLoginAndRevokesSessions() {
	reg := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(reg.Success)

	res := s.svc.SetBanStatus("alice", true, 0, "cheating")
	s.Require().True(res.Success)

	s.False(s.svc.Authenticate(reg.Token).Success, "live token must die with the ban")

	login := s.svc.Login("alice", "hunter2x")
	s.False(login.Success)
	s.Contains(login.Message, "banned")
}

func (s *AuthServiceSuite) TestExpiredBanClearsOnLogin() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	past := time.Now().Add(-time.Minute)
	user.Banned = true
	user.BanExpiresAt = &past
	s.Require().NoError(s.store.UpdateUser(user))

	res := s.svc.Login("alice", "hunter2x")
	s.True(res.Success, "expired ban must clear on the way through")
}

func (s *AuthServiceSuite) TestMuteLifecycle() {
	reg := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(reg.Success)

	s.Require().True(s.svc.SetMuteStatus("alice", true, time.Hour).Success)
	s.True(s.svc.IsMuted(reg.PlayerID))

	s.Require().True(s.svc.SetMuteStatus("alice", false, 0).Success)
	s.False(s.svc.IsMuted(reg.PlayerID))
}

func (s *AuthServiceSuite) TestExpiredMuteClearsLazily() {
	reg := s.svc.Register("alice", "hunter2x", "")
	s.Require().True(reg.Success)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	past := time.Now().Add(-time.Minute)
	user.Muted = true
	user.MuteExpiresAt = &past
	s.Require().NoError(s.store.UpdateUser(user))

	s.False(s.svc.IsMuted(reg.PlayerID))
}

func (s *AuthServiceSuite) TestPasswordResetDoesNotLeakAccounts() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "alice@example.com").Success)

	known := s.svc.RequestPasswordReset("alice", "10.0.0.1")
	unknown := s.svc.RequestPasswordReset("nobody", "10.0.0.2")

	s.Require().True(known.Success)
	s.Require().True(unknown.Success)
	s.Equal(known.Data["message"], unknown.Data["message"], "reset responses must be indistinguishable")
}

func (s *AuthServiceSuite) TestPasswordResetRoundTrip() {
	reg := s.svc.Register("alice", "hunter2x", "alice@example.com")
	s.Require().True(reg.Success)

	s.Require().True(s.svc.RequestPasswordReset("alice", "10.0.0.1").Success)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	s.Require().NotEmpty(user.ResetToken)

	res := s.svc.ResetPassword(user.ResetToken, "new-password")
	s.Require().True(res.Success, res.Message)

	s.False(s.svc.Authenticate(reg.Token).Success, "reset must revoke live sessions")
	s.False(s.svc.Login("alice", "hunter2x").Success)
	s.True(s.svc.Login("alice", "new-password").Success)

	// The token is single use.
	s.False(s.svc.ResetPassword(user.ResetToken, "another-pass").Success)
}

func (s *AuthServiceSuite) TestPasswordResetRateLimit() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	for i := 0; i < 3; i++ {
		s.Require().True(s.svc.RequestPasswordReset("alice", "10.0.0.1").Success)
	}
	res := s.svc.RequestPasswordReset("alice", "10.0.0.1")
	s.False(res.Success)
}

func (s *AuthServiceSuite) TestSharedResetLimiterIsConsulted() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)

	shared := ratelimit.New(time.Hour, 1)
	s.svc.UseResetLimiter(shared)

	s.Require().True(s.svc.RequestPasswordReset("alice", "10.0.0.1").Success)
	s.False(s.svc.RequestPasswordReset("alice", "10.0.0.1").Success,
		"second request must throttle through the injected limiter")
	s.Zero(shared.Remaining("addr:10.0.0.1"), "the shared instance holds the window state")
}

func (s *AuthServiceSuite) TestVerifyEmailConsumesCode() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "alice@example.com").Success)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)

	s.False(s.svc.VerifyEmail("alice", "000000").Success)
	s.Require().True(s.svc.VerifyEmail("alice", user.VerificationCode).Success)

	verified, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	s.True(verified.EmailVerified)
	s.Empty(verified.VerificationCode)

	// Reusing the consumed code fails.
	s.False(s.svc.VerifyEmail("alice", user.VerificationCode).Success)
}

func (s *AuthServiceSuite) TestAddEmail() {
	s.Require().True(s.svc.Register("alice", "hunter2x", "").Success)
	s.Require().True(s.svc.Register("bob", "hunter2x", "bob@example.com").Success)

	s.False(s.svc.AddEmail("alice", "bob@example.com").Success, "emails are unique")
	s.Require().True(s.svc.AddEmail("alice", "alice@example.com").Success)

	user, err := s.store.GetUser("alice")
	s.Require().NoError(err)
	s.Equal("alice@example.com", user.Email)
	s.False(user.EmailVerified)
	s.Len(user.VerificationCode, 6)
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Error("equal strings reported unequal")
	}
	if ConstantTimeEqual("abc", "abd") {
		t.Error("unequal strings reported equal")
	}
	if ConstantTimeEqual("abc", "abcd") {
		t.Error("different lengths reported equal")
	}
}
