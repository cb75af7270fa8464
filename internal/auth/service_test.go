package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vtuplug/vtuplug/internal/config"
	"github.com/vtuplug/vtuplug/internal/identity"
)

func testConfig() config.Config {
	return config.Config{
		AppName:       "vtuplug-test",
		JWTSecret:     "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}
}

func registeredUser(t *testing.T, repo identity.Repository) identity.User {
	t.Helper()
	ids := identity.NewService(repo, nil)
	user, err := ids.Register(context.Background(), identity.Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)
	return user
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)
	require.Equal(t, int64(60), pair.ExpiresIn)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, user.Phone, claims.Phone)
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(pair.RefreshToken)
	require.Error(t, err)
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	access, expiresIn, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, int64(60), expiresIn)

	claims, err := svc.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	_, _, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessRejectsExpiredToken(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)

	cfg := testConfig()
	cfg.AccessTTL = -time.Minute
	svc := NewService(cfg, repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(pair.AccessToken)
	require.Error(t, err)
}
