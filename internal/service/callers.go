package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"meramandi/internal/alerting"
	"meramandi/internal/market"
	"meramandi/internal/storage"
)

// CallerRegistration holds the details collected during a voice call.
type CallerRegistration struct {
	Phone    string
	Name     string
	State    string
	District string
	Crop     string
}

// CallerResult reports the outcome of a voice registration.
type CallerResult struct {
	Owner    storage.Owner
	Snapshot *market.Snapshot
	SMSSent  int
}

// Callers completes voice registrations.
type Callers struct {
	owners    storage.OwnerStore
	snapshots *Snapshots
	sender    alerting.Sender
	logger    zerolog.Logger
}

// NewCallers wires the voice registration service.
func NewCallers(owners storage.OwnerStore, snapshots *Snapshots, sender alerting.Sender, logger zerolog.Logger) *Callers {
	return &Callers{
		owners:    owners,
		snapshots: snapshots,
		sender:    sender,
		logger:    logger.With().Str("component", "callers").Logger(),
	}
}

// RegisterCaller upserts the caller as an owner, captures a snapshot for the
// chosen district and crop, and texts the prices back. SMS failures are
// logged; only persisting the owner can fail the registration.
func (c *Callers) RegisterCaller(ctx context.Context, reg CallerRegistration) (CallerResult, error) {
	owner, err := c.owners.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{
		Phone:         alerting.LocalPhone(reg.Phone),
		Name:          reg.Name,
		State:         reg.State,
		District:      reg.District,
		PreferredCrop: reg.Crop,
	})
	if err != nil {
		return CallerResult{}, fmt.Errorf("upsert caller: %w", err)
	}
	result := CallerResult{Owner: owner}

	snap, err := c.snapshots.Capture(ctx, market.Filter{
		State:     reg.State,
		District:  reg.District,
		Commodity: reg.Crop,
		Mandi:     market.AllMandis,
	})
	var messages []string
	if err != nil {
		c.logger.Info().Err(err).Str("district", reg.District).Str("crop", reg.Crop).Msg("no prices for caller")
		messages = []string{alerting.UnavailableMessage(reg.Crop)}
	} else {
		result.Snapshot = &snap
		if snap.ID != 0 {
			if err := c.owners.SetOwnerSnapshot(ctx, owner.ID, snap.ID); err != nil {
				c.logger.Warn().Err(err).Msg("failed to attach snapshot to caller")
			}
		}
		messages = alerting.RegistrationMessages(reg.Crop, snap.Summary)
	}

	to := alerting.NormalizePhone(reg.Phone)
	for _, body := range messages {
		if err := c.sender.Send(ctx, to, body); err != nil {
			c.logger.Error().Err(err).Str("owner_id", owner.ID.String()).Msg("registration sms failed")
			break
		}
		result.SMSSent++
	}

	c.logger.Info().
		Str("owner_id", owner.ID.String()).
		Str("district", reg.District).
		Str("crop", reg.Crop).
		Int("sms_sent", result.SMSSent).
		Msg("voice registration completed")
	return result, nil
}
