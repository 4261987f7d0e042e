package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"meramandi/internal/market"
	"meramandi/internal/schedule"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
)

const (
	upsertOwnerSQL = `INSERT INTO owners (
        id, phone, name, email, state, district, preferred_crop
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (phone) DO UPDATE
    SET
        name           = COALESCE(NULLIF(EXCLUDED.name, ''), owners.name),
        email          = COALESCE(NULLIF(EXCLUDED.email, ''), owners.email),
        email_verified = CASE
            WHEN EXCLUDED.email <> '' AND lower(EXCLUDED.email) <> lower(owners.email) THEN FALSE
            ELSE owners.email_verified
        END,
        state          = COALESCE(NULLIF(EXCLUDED.state, ''), owners.state),
        district       = COALESCE(NULLIF(EXCLUDED.district, ''), owners.district),
        preferred_crop = COALESCE(NULLIF(EXCLUDED.preferred_crop, ''), owners.preferred_crop),
        updated_at     = now()
    RETURNING ` + ownerColumns + `;`

	ownerColumns = `id, phone, name, email, state, district, preferred_crop,
        password_hash, COALESCE(auth_token, ''), token_expires_at, snapshot_id, created_at, updated_at,
        email_verified, email_otp_hash, email_otp_expires_at, email_otp_attempts`

	getOwnerByPhoneSQL = `SELECT ` + ownerColumns + ` FROM owners WHERE phone = $1;`

	getOwnerByEmailSQL = `SELECT ` + ownerColumns + `
    FROM owners
    WHERE email <> '' AND lower(email) = lower($1)
    ORDER BY updated_at DESC
    LIMIT 1;`

	getOwnerByTokenSQL = `SELECT ` + ownerColumns + `
    FROM owners
    WHERE auth_token = $1
      AND token_expires_at > $2;`

	setOwnerPasswordSQL = `UPDATE owners SET password_hash = $2, updated_at = now() WHERE id = $1;`
	setOwnerTokenSQL    = `UPDATE owners SET auth_token = $2, token_expires_at = $3, updated_at = now() WHERE id = $1;`
	clearOwnerTokenSQL  = `UPDATE owners SET auth_token = NULL, token_expires_at = NULL, updated_at = now() WHERE auth_token = $1;`
	setOwnerSnapshotSQL = `UPDATE owners SET snapshot_id = $2, updated_at = now() WHERE id = $1;`

	setEmailOTPSQL = `UPDATE owners
    SET email_otp_hash = $2, email_otp_expires_at = $3, email_otp_attempts = 0, updated_at = now()
    WHERE id = $1;`

	recordEmailOTPFailureSQL = `UPDATE owners SET email_otp_attempts = email_otp_attempts + 1 WHERE id = $1;`

	markEmailVerifiedSQL = `UPDATE owners
    SET email_verified = TRUE, email_otp_hash = '', email_otp_expires_at = NULL, email_otp_attempts = 0, updated_at = now()
    WHERE id = $1;`

	insertSnapshotSQL = `INSERT INTO market_snapshots (
        state, district, commodity, mandi_name, min_price, max_price, modal_price, fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	snapshotColumns = `id, state, district, commodity, mandi_name,
        min_price::text, max_price::text, modal_price::text, fetched_at`

	getSnapshotSQL = `SELECT ` + snapshotColumns + ` FROM market_snapshots WHERE id = $1;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM market_snapshots
    ORDER BY fetched_at DESC, id DESC
    LIMIT $1;`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM market_snapshots
    WHERE fetched_at >= $1
      AND fetched_at < $2
    ORDER BY fetched_at, id;`

	insertSubscriptionSQL = `INSERT INTO alert_subscriptions (
        id, owner_id, state, district, mandi, commodity, target_price, active, schedules, snapshot_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING created_at;`

	listActiveSubscriptionsSQL = `SELECT
        s.id, s.owner_id, s.state, s.district, s.mandi, s.commodity,
        s.target_price::text, s.active, s.schedules, s.last_notified_at, s.snapshot_id, s.created_at,
        o.phone, o.name,
        cs.state, cs.district, cs.commodity, cs.mandi_name,
        cs.min_price::text, cs.max_price::text, cs.modal_price::text, cs.fetched_at,
        os.id, os.state, os.district, os.commodity, os.mandi_name,
        os.min_price::text, os.max_price::text, os.modal_price::text, os.fetched_at
    FROM alert_subscriptions s
    JOIN owners o ON o.id = s.owner_id
    LEFT JOIN market_snapshots cs ON cs.id = s.snapshot_id
    LEFT JOIN market_snapshots os ON os.id = o.snapshot_id
    WHERE s.active
    ORDER BY s.created_at, s.id;`

	claimNotificationSQL = `UPDATE alert_subscriptions
    SET last_notified_at = $3
    WHERE id = $1
      AND active
      AND last_notified_at IS NOT DISTINCT FROM $2;`

	releaseNotificationSQL = `UPDATE alert_subscriptions
    SET last_notified_at = $3
    WHERE id = $1
      AND last_notified_at = $2;`

	getCallSessionSQL = `SELECT call_sid, phone, step, name, state, district, crop, updated_at
    FROM call_sessions
    WHERE call_sid = $1;`

	saveCallSessionSQL = `INSERT INTO call_sessions (
        call_sid, phone, step, name, state, district, crop, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,now()
    )
    ON CONFLICT (call_sid) DO UPDATE
    SET
        step       = EXCLUDED.step,
        name       = EXCLUDED.name,
        state      = EXCLUDED.state,
        district   = EXCLUDED.district,
        crop       = EXCLUDED.crop,
        updated_at = now();`

	deleteCallSessionSQL = `DELETE FROM call_sessions WHERE call_sid = $1;`

	pingSQL = `SELECT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OwnerStore defines owner persistence.
type OwnerStore interface {
	UpsertOwnerByPhone(ctx context.Context, in OwnerUpsert) (Owner, error)
	GetOwnerByPhone(ctx context.Context, phone string) (Owner, error)
	GetOwnerByToken(ctx context.Context, token string, now time.Time) (Owner, error)
	SetOwnerPassword(ctx context.Context, id uuid.UUID, hash string) error
	SetOwnerToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	ClearOwnerToken(ctx context.Context, token string) error
	SetOwnerSnapshot(ctx context.Context, id uuid.UUID, snapshotID int64) error
	GetOwnerByEmail(ctx context.Context, email string) (Owner, error)
	SetEmailOTP(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error
	RecordEmailOTPFailure(ctx context.Context, id uuid.UUID) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
}

// SubscriptionStore defines alert subscription persistence.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]ActiveSubscription, error)
	ClaimNotification(ctx context.Context, id uuid.UUID, prev *time.Time, now time.Time) (bool, error)
	ReleaseNotification(ctx context.Context, id uuid.UUID, claimed time.Time, prev *time.Time) error
}

// SnapshotStore defines market snapshot persistence.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap market.Snapshot) (market.Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (market.Snapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]market.Snapshot, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error)
}

// CallSessionStore defines voice call session persistence.
type CallSessionStore interface {
	GetCallSession(ctx context.Context, callSID string) (CallSession, error)
	SaveCallSession(ctx context.Context, sess CallSession) error
	DeleteCallSession(ctx context.Context, callSID string) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to owners, subscriptions, snapshots and call sessions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var one int
	if err := pool.QueryRow(ctx, pingSQL).Scan(&one); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertOwnerByPhone inserts a new owner or refreshes the non-empty fields of
// the owner holding the same phone.
func (s *Store) UpsertOwnerByPhone(ctx context.Context, in OwnerUpsert) (Owner, error) {
	pool, err := s.getPool()
	if err != nil {
		return Owner{}, err
	}
	if in.Phone == "" {
		return Owner{}, fmt.Errorf("upsert owner: phone is required")
	}

	row := pool.QueryRow(ctx, upsertOwnerSQL,
		uuid.New(),
		in.Phone,
		in.Name,
		in.Email,
		in.State,
		in.District,
		in.PreferredCrop,
	)
	owner, err := scanOwner(row)
	if err != nil {
		return Owner{}, fmt.Errorf("upsert owner: %w", err)
	}
	return owner, nil
}

// GetOwnerByPhone loads an owner by local phone number.
func (s *Store) GetOwnerByPhone(ctx context.Context, phone string) (Owner, error) {
	pool, err := s.getPool()
	if err != nil {
		return Owner{}, err
	}
	owner, err := scanOwner(pool.QueryRow(ctx, getOwnerByPhoneSQL, phone))
	if err != nil {
		return Owner{}, wrapNotFound("get owner by phone", err)
	}
	return owner, nil
}

// GetOwnerByToken loads the owner holding an unexpired session token.
func (s *Store) GetOwnerByToken(ctx context.Context, token string, now time.Time) (Owner, error) {
	pool, err := s.getPool()
	if err != nil {
		return Owner{}, err
	}
	owner, err := scanOwner(pool.QueryRow(ctx, getOwnerByTokenSQL, token, now))
	if err != nil {
		return Owner{}, wrapNotFound("get owner by token", err)
	}
	return owner, nil
}

// SetOwnerPassword stores a password hash.
func (s *Store) SetOwnerPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return s.execOne(ctx, "set owner password", setOwnerPasswordSQL, id, hash)
}

// SetOwnerToken stores a session token and its expiry.
func (s *Store) SetOwnerToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	return s.execOne(ctx, "set owner token", setOwnerTokenSQL, id, token, expiresAt)
}

// ClearOwnerToken revokes a session token. Unknown tokens are ignored.
func (s *Store) ClearOwnerToken(ctx context.Context, token string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, clearOwnerTokenSQL, token); err != nil {
		return fmt.Errorf("clear owner token: %w", err)
	}
	return nil
}

// SetOwnerSnapshot points the owner at its latest market snapshot.
func (s *Store) SetOwnerSnapshot(ctx context.Context, id uuid.UUID, snapshotID int64) error {
	return s.execOne(ctx, "set owner snapshot", setOwnerSnapshotSQL, id, snapshotID)
}

// GetOwnerByEmail loads the most recently updated owner with the given email,
// compared case-insensitively.
func (s *Store) GetOwnerByEmail(ctx context.Context, email string) (Owner, error) {
	pool, err := s.getPool()
	if err != nil {
		return Owner{}, err
	}
	owner, err := scanOwner(pool.QueryRow(ctx, getOwnerByEmailSQL, email))
	if err != nil {
		return Owner{}, wrapNotFound("get owner by email", err)
	}
	return owner, nil
}

// SetEmailOTP stores a hashed one-time code and resets the attempt counter.
func (s *Store) SetEmailOTP(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	return s.execOne(ctx, "set email otp", setEmailOTPSQL, id, hash, expiresAt)
}

// RecordEmailOTPFailure counts a wrong code against the pending OTP.
func (s *Store) RecordEmailOTPFailure(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "record email otp failure", recordEmailOTPFailureSQL, id)
}

// MarkEmailVerified flags the email as verified and clears the pending OTP.
func (s *Store) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "mark email verified", markEmailVerifiedSQL, id)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// SaveSnapshot appends a valid snapshot to the history and returns it with its id.
func (s *Store) SaveSnapshot(ctx context.Context, snap market.Snapshot) (market.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.Snapshot{}, err
	}
	if !snap.Valid() {
		return market.Snapshot{}, fmt.Errorf("save snapshot: %w", market.ErrNoData)
	}

	var id int64
	if err := pool.QueryRow(ctx, insertSnapshotSQL,
		snap.State,
		snap.District,
		snap.Commodity,
		snap.Summary.MandiName,
		snap.Summary.MinPrice.String(),
		snap.Summary.MaxPrice.String(),
		snap.Summary.ModalPrice.String(),
		snap.FetchedAt,
	).Scan(&id); err != nil {
		return market.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	snap.ID = id
	return snap, nil
}

// GetSnapshot loads a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (market.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.Snapshot{}, err
	}
	rows, err := pool.Query(ctx, getSnapshotSQL, id)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snaps, err := collectSnapshots(rows, 1)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return market.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, ErrNotFound)
	}
	return snaps[0], nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending fetch time.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]market.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return collectSnapshots(rows, limit)
}

// ListSnapshotsBetween lists snapshots fetched within [from, to).
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	return collectSnapshots(rows, 0)
}

// CreateSubscription stores a new subscription. A zero ID is generated.
func (s *Store) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	schedules, err := json.Marshal(sub.Schedules)
	if err != nil {
		return Subscription{}, fmt.Errorf("encode schedules: %w", err)
	}

	var target any
	if sub.TargetPrice != nil {
		target = sub.TargetPrice.String()
	}

	if err := pool.QueryRow(ctx, insertSubscriptionSQL,
		sub.ID,
		sub.OwnerID,
		sub.State,
		sub.District,
		sub.Mandi,
		sub.Commodity,
		target,
		sub.Active,
		schedules,
		sub.SnapshotID,
	).Scan(&sub.CreatedAt); err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// ListActiveSubscriptions lists active subscriptions joined with owner and fallback snapshots.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]ActiveSubscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActiveSubscriptionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]ActiveSubscription, 0)
	for rows.Next() {
		sub, err := scanActiveSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// ClaimNotification sets last_notified_at to now only if it still equals
// prev. It reports false when another run already claimed the subscription.
// Timestamps are stored with microsecond precision.
func (s *Store) ClaimNotification(ctx context.Context, id uuid.UUID, prev *time.Time, now time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, claimNotificationSQL, id, prev, now.Truncate(time.Microsecond))
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseNotification restores prev after a failed send, provided the claim is
// still the current value.
func (s *Store) ReleaseNotification(ctx context.Context, id uuid.UUID, claimed time.Time, prev *time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, releaseNotificationSQL, id, claimed.Truncate(time.Microsecond), prev); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

// GetCallSession loads the session of an active call.
func (s *Store) GetCallSession(ctx context.Context, callSID string) (CallSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return CallSession{}, err
	}
	var sess CallSession
	if err := pool.QueryRow(ctx, getCallSessionSQL, callSID).Scan(
		&sess.CallSID,
		&sess.Phone,
		&sess.Step,
		&sess.Name,
		&sess.State,
		&sess.District,
		&sess.Crop,
		&sess.UpdatedAt,
	); err != nil {
		return CallSession{}, wrapNotFound("get call session", err)
	}
	return sess, nil
}

// SaveCallSession creates or updates a call session.
func (s *Store) SaveCallSession(ctx context.Context, sess CallSession) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, saveCallSessionSQL,
		sess.CallSID,
		sess.Phone,
		sess.Step,
		sess.Name,
		sess.State,
		sess.District,
		sess.Crop,
	); err != nil {
		return fmt.Errorf("save call session: %w", err)
	}
	return nil
}

// DeleteCallSession removes a call session.
func (s *Store) DeleteCallSession(ctx context.Context, callSID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteCallSessionSQL, callSID); err != nil {
		return fmt.Errorf("delete call session: %w", err)
	}
	return nil
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanOwner(row pgx.Row) (Owner, error) {
	var o Owner
	if err := row.Scan(
		&o.ID,
		&o.Phone,
		&o.Name,
		&o.Email,
		&o.State,
		&o.District,
		&o.PreferredCrop,
		&o.PasswordHash,
		&o.AuthToken,
		&o.TokenExpiresAt,
		&o.SnapshotID,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.EmailVerified,
		&o.EmailOTPHash,
		&o.EmailOTPExpiresAt,
		&o.EmailOTPAttempts,
	); err != nil {
		return Owner{}, err
	}
	return o, nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]market.Snapshot, error) {
	defer rows.Close()

	snaps := make([]market.Snapshot, 0, capacity)
	for rows.Next() {
		var (
			snap                     market.Snapshot
			minStr, maxStr, modalStr string
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.State,
			&snap.District,
			&snap.Commodity,
			&snap.Summary.MandiName,
			&minStr,
			&maxStr,
			&modalStr,
			&snap.FetchedAt,
		); err != nil {
			return nil, err
		}
		summary, err := parseSummary(snap.Summary.MandiName, minStr, maxStr, modalStr)
		if err != nil {
			return nil, err
		}
		snap.Summary = summary
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// nullableSnapshot scans the columns of a LEFT JOINed snapshot.
type nullableSnapshot struct {
	id        *int64
	state     *string
	district  *string
	commodity *string
	mandi     *string
	min       *string
	max       *string
	modal     *string
	fetchedAt *time.Time
}

func (n nullableSnapshot) snapshot(id *int64) (*market.Snapshot, error) {
	if id == nil || n.mandi == nil || n.min == nil || n.max == nil || n.modal == nil || n.fetchedAt == nil {
		return nil, nil
	}
	summary, err := parseSummary(*n.mandi, *n.min, *n.max, *n.modal)
	if err != nil {
		return nil, err
	}
	return &market.Snapshot{
		ID:        *id,
		State:     deref(n.state),
		District:  deref(n.district),
		Commodity: deref(n.commodity),
		Summary:   summary,
		FetchedAt: *n.fetchedAt,
	}, nil
}

func scanActiveSubscription(rows pgx.Rows) (ActiveSubscription, error) {
	var (
		sub       ActiveSubscription
		targetStr *string
		schedules []byte
		cached    nullableSnapshot
		owner     nullableSnapshot
	)

	if err := rows.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.State,
		&sub.District,
		&sub.Mandi,
		&sub.Commodity,
		&targetStr,
		&sub.Active,
		&schedules,
		&sub.LastNotifiedAt,
		&sub.SnapshotID,
		&sub.CreatedAt,
		&sub.OwnerPhone,
		&sub.OwnerName,
		&cached.state,
		&cached.district,
		&cached.commodity,
		&cached.mandi,
		&cached.min,
		&cached.max,
		&cached.modal,
		&cached.fetchedAt,
		&owner.id,
		&owner.state,
		&owner.district,
		&owner.commodity,
		&owner.mandi,
		&owner.min,
		&owner.max,
		&owner.modal,
		&owner.fetchedAt,
	); err != nil {
		return ActiveSubscription{}, err
	}

	if targetStr != nil {
		target, err := decimal.NewFromString(*targetStr)
		if err != nil {
			return ActiveSubscription{}, fmt.Errorf("parse target price: %w", err)
		}
		sub.TargetPrice = &target
	}

	if len(schedules) > 0 {
		var entries []schedule.Entry
		if err := json.Unmarshal(schedules, &entries); err != nil {
			return ActiveSubscription{}, fmt.Errorf("decode schedules: %w", err)
		}
		sub.Schedules = entries
	}

	var err error
	if sub.Cached, err = cached.snapshot(sub.SnapshotID); err != nil {
		return ActiveSubscription{}, err
	}
	if sub.OwnerSnapshot, err = owner.snapshot(owner.id); err != nil {
		return ActiveSubscription{}, err
	}
	return sub, nil
}

func parseSummary(mandi, minStr, maxStr, modalStr string) (market.Summary, error) {
	minPrice, err := decimal.NewFromString(minStr)
	if err != nil {
		return market.Summary{}, fmt.Errorf("parse min price: %w", err)
	}
	maxPrice, err := decimal.NewFromString(maxStr)
	if err != nil {
		return market.Summary{}, fmt.Errorf("parse max price: %w", err)
	}
	modal, err := decimal.NewFromString(modalStr)
	if err != nil {
		return market.Summary{}, fmt.Errorf("parse modal price: %w", err)
	}
	return market.Summary{
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		ModalPrice: modal,
		MandiName:  mandi,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ OwnerStore        = (*Store)(nil)
	_ SubscriptionStore = (*Store)(nil)
	_ SnapshotStore     = (*Store)(nil)
	_ CallSessionStore  = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
