package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tierBasic    = "basic"
	tierVerified = "verified"
)

var (
	// ErrInvalidPIN indicates the supplied PIN does not match.
	ErrInvalidPIN = errors.New("invalid PIN")
	// ErrDeviceMismatch indicates the request came from a device other than
	// the one bound at first login.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// WalletProvisioner creates the user's wallet during onboarding.
type WalletProvisioner func(ctx context.Context, ownerID string) error

// Service manages the identity lifecycle.
type Service struct {
	repo      Repository
	provision WalletProvisioner
}

// NewService creates a new identity service. The provisioner may be nil when
// wallet creation is handled elsewhere.
func NewService(repo Repository, provision WalletProvisioner) *Service {
	return &Service{repo: repo, provision: provision}
}

// Register creates a basic-tier user with a hashed PIN and provisions their
// wallet.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	if len(creds.Phone) < 7 {
		return User{}, errors.New("phone number is required")
	}
	if len(creds.PIN) < 4 {
		return User{}, errors.New("PIN must be at least 4 digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.NewString(),
		Phone:     creds.Phone,
		Tier:      tierBasic,
		PINHash:   hash,
		DeviceID:  creds.DeviceID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	if s.provision != nil {
		if err := s.provision(ctx, user.ID); err != nil {
			return User{}, err
		}
	}

	return user, nil
}

// Authenticate verifies credentials and device binding. The first
// authenticated login binds the device and promotes the user to verified.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, creds.Phone)
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidPIN
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, errors.New("device binding required")
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, ErrDeviceMismatch
	}

	if user.Tier == tierBasic {
		if err := s.repo.UpdateTier(ctx, user.ID, tierVerified); err != nil {
			return User{}, err
		}
		user.Tier = tierVerified
	}

	return user, nil
}

// Get fetches a user by identifier.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}
