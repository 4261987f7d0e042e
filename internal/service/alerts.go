package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"meramandi/internal/alerting"
	"meramandi/internal/market"
	"meramandi/internal/schedule"
	"meramandi/internal/storage"
)

// CreateAlertInput is a subscription request from the web form.
type CreateAlertInput struct {
	Name        string           `json:"name"`
	Phone       string           `json:"phone"`
	Email       string           `json:"email"`
	State       string           `json:"state"`
	District    string           `json:"district"`
	Mandi       string           `json:"mandi"`
	Commodity   string           `json:"commodity"`
	TargetPrice *decimal.Decimal `json:"targetPrice,omitempty"`
	Schedules   []schedule.Entry `json:"schedules"`
}

// CreateAlertResult reports what Create stored.
type CreateAlertResult struct {
	Owner        storage.Owner
	Subscription storage.Subscription
	Snapshot     *market.Snapshot
	EmailSent    bool
}

// Alerts creates alert subscriptions.
type Alerts struct {
	owners    storage.OwnerStore
	subs      storage.SubscriptionStore
	history   storage.SnapshotStore
	snapshots *Snapshots
	mailer    alerting.Mailer
	logger    zerolog.Logger
}

// NewAlerts wires the alert subscription service.
func NewAlerts(owners storage.OwnerStore, subs storage.SubscriptionStore, history storage.SnapshotStore, snapshots *Snapshots, mailer alerting.Mailer, logger zerolog.Logger) *Alerts {
	return &Alerts{
		owners:    owners,
		subs:      subs,
		history:   history,
		snapshots: snapshots,
		mailer:    mailer,
		logger:    logger.With().Str("component", "alerts").Logger(),
	}
}

// Create validates the request, upserts the owner by phone, caches a market
// snapshot and stores the subscription. The confirmation email is best effort.
func (a *Alerts) Create(ctx context.Context, in CreateAlertInput) (CreateAlertResult, error) {
	in, err := normalizeAlertInput(in)
	if err != nil {
		return CreateAlertResult{}, err
	}

	owner, err := a.owners.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{
		Phone:         alerting.LocalPhone(in.Phone),
		Name:          in.Name,
		Email:         in.Email,
		State:         in.State,
		District:      in.District,
		PreferredCrop: in.Commodity,
	})
	if err != nil {
		return CreateAlertResult{}, fmt.Errorf("upsert owner: %w", err)
	}

	filter := market.Filter{State: in.State, District: in.District, Commodity: in.Commodity, Mandi: in.Mandi}
	snap := a.captureOrFallback(ctx, owner, filter)

	sub := storage.Subscription{
		OwnerID:     owner.ID,
		State:       in.State,
		District:    in.District,
		Mandi:       in.Mandi,
		Commodity:   in.Commodity,
		TargetPrice: in.TargetPrice,
		Active:      true,
		Schedules:   in.Schedules,
	}
	if snap != nil && snap.ID != 0 {
		id := snap.ID
		sub.SnapshotID = &id
	}

	sub, err = a.subs.CreateSubscription(ctx, sub)
	if err != nil {
		return CreateAlertResult{}, fmt.Errorf("create subscription: %w", err)
	}

	result := CreateAlertResult{Owner: owner, Subscription: sub, Snapshot: snap}

	if in.Email != "" && a.mailer != nil {
		err := a.mailer.SendConfirmation(ctx, in.Email, alerting.ConfirmationData{
			Name:      in.Name,
			Commodity: in.Commodity,
			Mandi:     mandiLabel(in.Mandi),
			District:  in.District,
			Schedules: in.Schedules,
		})
		if err != nil {
			a.logger.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("confirmation email failed")
		} else {
			result.EmailSent = true
		}
	}

	a.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("owner_id", owner.ID.String()).
		Str("district", in.District).
		Str("commodity", in.Commodity).
		Bool("snapshot", snap != nil).
		Msg("alert subscription created")
	return result, nil
}

// captureOrFallback captures a live snapshot and points the owner at it. When
// live data is missing the owner's previous snapshot is returned instead, but
// only if it was captured for the same location and commodity.
func (a *Alerts) captureOrFallback(ctx context.Context, owner storage.Owner, f market.Filter) *market.Snapshot {
	snap, err := a.snapshots.Capture(ctx, f)
	if err == nil {
		if snap.ID != 0 {
			if err := a.owners.SetOwnerSnapshot(ctx, owner.ID, snap.ID); err != nil {
				a.logger.Warn().Err(err).Msg("failed to attach snapshot to owner")
			}
		}
		return &snap
	}

	a.logger.Info().Err(err).Str("district", f.District).Msg("live snapshot unavailable; using owner snapshot")
	if owner.SnapshotID == nil || a.history == nil {
		return nil
	}
	prev, err := a.history.GetSnapshot(ctx, *owner.SnapshotID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn().Err(err).Msg("failed to load owner snapshot")
		}
		return nil
	}
	if !prev.Covers(f) {
		a.logger.Debug().
			Int64("snapshot_id", prev.ID).
			Str("snapshot_commodity", prev.Commodity).
			Str("commodity", f.Commodity).
			Msg("owner snapshot does not cover this alert; none attached")
		return nil
	}
	return &prev
}

func normalizeAlertInput(in CreateAlertInput) (CreateAlertInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.State = strings.TrimSpace(in.State)
	in.District = strings.TrimSpace(in.District)
	in.Mandi = strings.TrimSpace(in.Mandi)
	in.Commodity = strings.TrimSpace(in.Commodity)

	if len(alerting.LocalPhone(in.Phone)) != 10 {
		return in, fmt.Errorf("%w: phone must have at least 10 digits", ErrInvalidInput)
	}
	if in.State == "" || in.District == "" {
		return in, fmt.Errorf("%w: state and district are required", ErrInvalidInput)
	}
	if err := checkEmail(in.Email); err != nil {
		return in, err
	}
	if in.Commodity == "" {
		in.Commodity = market.AllCommodities
	}
	if in.Mandi == "" {
		in.Mandi = market.AllMandis
	}
	if in.TargetPrice != nil && in.TargetPrice.IsNegative() {
		return in, fmt.Errorf("%w: target price cannot be negative", ErrInvalidInput)
	}
	if len(in.Schedules) == 0 {
		in.Schedules = append([]schedule.Entry(nil), schedule.Default...)
	}
	if err := schedule.Validate(in.Schedules); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return in, nil
}

// checkEmail accepts an empty address or a single bare address such as
// "a@b.in". Display-name forms are rejected.
func checkEmail(email string) error {
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

func mandiLabel(m string) string {
	if market.IsAllMandis(m) {
		return "all mandis"
	}
	return m
}
