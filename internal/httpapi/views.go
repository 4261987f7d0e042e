package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"meramandi/internal/market"
	"meramandi/internal/schedule"
	"meramandi/internal/storage"
)

type locationView struct {
	State    string `json:"state"`
	District string `json:"district"`
}

type ownerView struct {
	ID            string           `json:"id"`
	Phone         string           `json:"phone"`
	Name          string           `json:"name,omitempty"`
	Email         string           `json:"email,omitempty"`
	EmailVerified bool             `json:"isEmailVerified"`
	Location      locationView     `json:"location"`
	PreferredCrop string           `json:"preferredCrop,omitempty"`
	MarketData    *market.Snapshot `json:"registrationMarketData,omitempty"`
}

func newOwnerView(o storage.Owner, snap *market.Snapshot) ownerView {
	return ownerView{
		ID:            o.ID.String(),
		Phone:         o.Phone,
		Name:          o.Name,
		Email:         o.Email,
		EmailVerified: o.EmailVerified,
		Location:      locationView{State: o.State, District: o.District},
		PreferredCrop: o.PreferredCrop,
		MarketData:    snap,
	}
}

type subscriptionView struct {
	ID             string           `json:"id"`
	State          string           `json:"state"`
	District       string           `json:"district"`
	Mandi          string           `json:"mandi"`
	Commodity      string           `json:"commodity"`
	TargetPrice    *decimal.Decimal `json:"targetPrice,omitempty"`
	Active         bool             `json:"isActive"`
	Schedules      []schedule.Entry `json:"schedules"`
	LastNotifiedAt *time.Time       `json:"lastNotifiedAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

func newSubscriptionView(s storage.Subscription) subscriptionView {
	return subscriptionView{
		ID:             s.ID.String(),
		State:          s.State,
		District:       s.District,
		Mandi:          s.Mandi,
		Commodity:      s.Commodity,
		TargetPrice:    s.TargetPrice,
		Active:         s.Active,
		Schedules:      s.Schedules,
		LastNotifiedAt: s.LastNotifiedAt,
		CreatedAt:      s.CreatedAt,
	}
}
