package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meramandi/internal/alerting"
	"meramandi/internal/fetcher"
	"meramandi/internal/market"
	"meramandi/internal/storage"
)

// memStore is an in-memory implementation of the storage interfaces.
type memStore struct {
	mu        sync.Mutex
	owners    map[uuid.UUID]storage.Owner
	subs      map[uuid.UUID]storage.Subscription
	snapshots map[int64]market.Snapshot
	nextSnap  int64
	claims    int
}

func newMemStore() *memStore {
	return &memStore{
		owners:    make(map[uuid.UUID]storage.Owner),
		subs:      make(map[uuid.UUID]storage.Subscription),
		snapshots: make(map[int64]market.Snapshot),
	}
}

func (m *memStore) UpsertOwnerByPhone(ctx context.Context, in storage.OwnerUpsert) (storage.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.owners {
		if o.Phone == in.Phone {
			if in.Email != "" && !strings.EqualFold(in.Email, o.Email) {
				o.EmailVerified = false
			}
			o.Name = firstNonEmpty(in.Name, o.Name)
			o.Email = firstNonEmpty(in.Email, o.Email)
			o.State = firstNonEmpty(in.State, o.State)
			o.District = firstNonEmpty(in.District, o.District)
			o.PreferredCrop = firstNonEmpty(in.PreferredCrop, o.PreferredCrop)
			m.owners[id] = o
			return o, nil
		}
	}
	o := storage.Owner{
		ID:            uuid.New(),
		Phone:         in.Phone,
		Name:          in.Name,
		Email:         in.Email,
		State:         in.State,
		District:      in.District,
		PreferredCrop: in.PreferredCrop,
	}
	m.owners[o.ID] = o
	return o, nil
}

func (m *memStore) GetOwnerByPhone(ctx context.Context, phone string) (storage.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if o.Phone == phone {
			return o, nil
		}
	}
	return storage.Owner{}, storage.ErrNotFound
}

func (m *memStore) GetOwnerByToken(ctx context.Context, token string, now time.Time) (storage.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if o.AuthToken == token && o.TokenExpiresAt != nil && o.TokenExpiresAt.After(now) {
			return o, nil
		}
	}
	return storage.Owner{}, storage.ErrNotFound
}

func (m *memStore) update(id uuid.UUID, fn func(*storage.Owner)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&o)
	m.owners[id] = o
	return nil
}

func (m *memStore) SetOwnerPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return m.update(id, func(o *storage.Owner) { o.PasswordHash = hash })
}

func (m *memStore) SetOwnerToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	return m.update(id, func(o *storage.Owner) {
		o.AuthToken = token
		o.TokenExpiresAt = &expiresAt
	})
}

func (m *memStore) ClearOwnerToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.owners {
		if o.AuthToken == token {
			o.AuthToken = ""
			o.TokenExpiresAt = nil
			m.owners[id] = o
		}
	}
	return nil
}

func (m *memStore) SetOwnerSnapshot(ctx context.Context, id uuid.UUID, snapshotID int64) error {
	return m.update(id, func(o *storage.Owner) { o.SnapshotID = &snapshotID })
}

func (m *memStore) GetOwnerByEmail(ctx context.Context, email string) (storage.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if o.Email != "" && strings.EqualFold(o.Email, email) {
			return o, nil
		}
	}
	return storage.Owner{}, storage.ErrNotFound
}

func (m *memStore) SetEmailOTP(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	return m.update(id, func(o *storage.Owner) {
		o.EmailOTPHash = hash
		o.EmailOTPExpiresAt = &expiresAt
		o.EmailOTPAttempts = 0
	})
}

func (m *memStore) RecordEmailOTPFailure(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(o *storage.Owner) { o.EmailOTPAttempts++ })
}

func (m *memStore) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(o *storage.Owner) {
		o.EmailVerified = true
		o.EmailOTPHash = ""
		o.EmailOTPExpiresAt = nil
		o.EmailOTPAttempts = 0
	})
}

func (m *memStore) owner(id uuid.UUID) storage.Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[id]
}

func (m *memStore) SaveSnapshot(ctx context.Context, snap market.Snapshot) (market.Snapshot, error) {
	if !snap.Valid() {
		return market.Snapshot{}, market.ErrNoData
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSnap++
	snap.ID = m.nextSnap
	m.snapshots[snap.ID] = snap
	return snap, nil
}

func (m *memStore) GetSnapshot(ctx context.Context, id int64) (market.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return market.Snapshot{}, storage.ErrNotFound
	}
	return snap, nil
}

func (m *memStore) ListRecentSnapshots(ctx context.Context, limit int) ([]market.Snapshot, error) {
	return nil, errors.New("not used")
}

func (m *memStore) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error) {
	return nil, errors.New("not used")
}

func (m *memStore) CreateSubscription(ctx context.Context, sub storage.Subscription) (storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now()
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *memStore) ListActiveSubscriptions(ctx context.Context) ([]storage.ActiveSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.ActiveSubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if !sub.Active {
			continue
		}
		owner := m.owners[sub.OwnerID]
		active := storage.ActiveSubscription{Subscription: sub, OwnerPhone: owner.Phone, OwnerName: owner.Name}
		if sub.SnapshotID != nil {
			if snap, ok := m.snapshots[*sub.SnapshotID]; ok {
				active.Cached = &snap
			}
		}
		if owner.SnapshotID != nil {
			if snap, ok := m.snapshots[*owner.SnapshotID]; ok {
				active.OwnerSnapshot = &snap
			}
		}
		out = append(out, active)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *memStore) ClaimNotification(ctx context.Context, id uuid.UUID, prev *time.Time, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || !sub.Active || !sameInstant(sub.LastNotifiedAt, prev) {
		return false, nil
	}
	sub.LastNotifiedAt = &now
	m.subs[id] = sub
	m.claims++
	return true, nil
}

func (m *memStore) ReleaseNotification(ctx context.Context, id uuid.UUID, claimed time.Time, prev *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || !sameInstant(sub.LastNotifiedAt, &claimed) {
		return nil
	}
	sub.LastNotifiedAt = prev
	m.subs[id] = sub
	return nil
}

func (m *memStore) subscription(id uuid.UUID) storage.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id]
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// stubFetcher serves fixed records or a fixed error.
type stubFetcher struct {
	records []market.PriceRecord
	err     error
	calls   atomic.Int32
}

func (s *stubFetcher) FetchPrices(ctx context.Context, q fetcher.Query) ([]market.PriceRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

// recordingSender records sends and can fail on the n-th call (1-based).
type recordingSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn int
	calls  int
}

type sentMessage struct {
	To   string
	Body string
}

func (r *recordingSender) Send(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn > 0 && r.calls == r.failOn {
		return errors.New("twilio rejected message")
	}
	r.sent = append(r.sent, sentMessage{To: to, Body: body})
	return nil
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

// recordingMailer captures confirmation and OTP emails.
type recordingMailer struct {
	mu   sync.Mutex
	to   []string
	data []alerting.ConfirmationData
	otps []alerting.OTPData
	err  error
}

func (r *recordingMailer) SendOTP(ctx context.Context, to string, data alerting.OTPData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.otps = append(r.otps, data)
	return nil
}

func (r *recordingMailer) lastOTP() (alerting.OTPData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.otps) == 0 {
		return alerting.OTPData{}, false
	}
	return r.otps[len(r.otps)-1], true
}

func (r *recordingMailer) SendConfirmation(ctx context.Context, to string, data alerting.ConfirmationData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.data = append(r.data, data)
	return nil
}

func hisarCotton() []market.PriceRecord {
	return []market.PriceRecord{{
		State:       "Haryana",
		District:    "Hisar",
		Market:      "Adampur",
		Commodity:   "Cotton",
		Variety:     "Desi",
		MinPrice:    "5800",
		MaxPrice:    "6200",
		ModalPrice:  "6000",
		ArrivalDate: "20/01/2026",
	}}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
