package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterProvisionsWallet(t *testing.T) {
	var provisioned []string
	svc := NewService(NewMemoryRepository(), func(_ context.Context, ownerID string) error {
		provisioned = append(provisioned, ownerID)
		return nil
	})

	user, err := svc.Register(context.Background(), Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)
	require.Equal(t, tierBasic, user.Tier)
	require.Equal(t, []string{user.ID}, provisioned)
}

func TestRegisterDuplicatePhone(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "1234"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "5678"})
	require.ErrorIs(t, err, ErrPhoneTaken)
}

func TestAuthenticatePromotesTier(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)

	authed, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)
	require.Equal(t, tierVerified, authed.Tier)

	// The promotion is stored, not just reflected on the returned copy.
	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, tierVerified, stored.Tier)
}

func TestAuthenticateWrongPIN(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, Credentials{Phone: "+2348030000000", PIN: "0000", DeviceID: "device-1"})
	require.ErrorIs(t, err, ErrInvalidPIN)
}

func TestAuthenticateDeviceMismatch(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, Credentials{Phone: "+2348030000000", PIN: "1234", DeviceID: "device-2"})
	require.ErrorIs(t, err, ErrDeviceMismatch)
}

func TestAuthenticateBindsDeviceOnFirstLogin(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Phone: "+2348030000000", PIN: "1234"})
	require.NoError(t, err)
	require.Empty(t, user.DeviceID)

	authed, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "1234", DeviceID: "device-9"})
	require.NoError(t, err)
	require.Equal(t, "device-9", authed.DeviceID)

	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "device-9", stored.DeviceID)
}
