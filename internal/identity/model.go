package identity

import "time"

// User is a registered customer. A user owns exactly one wallet, provisioned
// at registration.
type User struct {
	ID        string
	Phone     string
	Tier      string
	PINHash   []byte
	DeviceID  string
	CreatedAt time.Time
}

// Credentials carries a phone/PIN pair plus the submitting device.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}
