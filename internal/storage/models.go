package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"meramandi/internal/market"
	"meramandi/internal/schedule"
)

// Owner is a farmer keyed by the local ten digit phone number.
type Owner struct {
	ID             uuid.UUID
	Phone          string
	Name           string
	Email          string
	State          string
	District       string
	PreferredCrop  string
	PasswordHash   string
	AuthToken      string
	TokenExpiresAt *time.Time
	SnapshotID     *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// EmailVerified resets whenever the stored email changes.
	EmailVerified     bool
	EmailOTPHash      string
	EmailOTPExpiresAt *time.Time
	EmailOTPAttempts  int
}

// OwnerUpsert carries the fields written on every contact. Empty strings
// leave the stored value untouched.
type OwnerUpsert struct {
	Phone         string
	Name          string
	Email         string
	State         string
	District      string
	PreferredCrop string
}

// Subscription is a persisted alert subscription.
type Subscription struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	State          string
	District       string
	Mandi          string
	Commodity      string
	TargetPrice    *decimal.Decimal
	Active         bool
	Schedules      []schedule.Entry
	LastNotifiedAt *time.Time
	SnapshotID     *int64
	CreatedAt      time.Time
}

// Filter returns the matcher filter for the subscription.
func (s Subscription) Filter() market.Filter {
	return market.Filter{
		State:     s.State,
		District:  s.District,
		Commodity: s.Commodity,
		Mandi:     s.Mandi,
	}
}

// ActiveSubscription is a subscription joined with its owner and the
// snapshots usable as fallback.
type ActiveSubscription struct {
	Subscription
	OwnerPhone    string
	OwnerName     string
	Cached        *market.Snapshot
	OwnerSnapshot *market.Snapshot
}

// CallSession holds the progress of one voice registration call.
type CallSession struct {
	CallSID   string
	Phone     string
	Step      string
	Name      string
	State     string
	District  string
	Crop      string
	UpdatedAt time.Time
}
