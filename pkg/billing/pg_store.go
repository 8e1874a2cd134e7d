package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on PostgreSQL. Apply runs both upserts in
// one transaction, which is what keeps the User.plan invariant
// crash-safe; the subscription upsert keys on external_order_id so a
// re-delivered order can never create a duplicate row.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed store. Panics on a nil pool
// to fail fast during initialization.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const userColumns = `id, email, name, password_hash, plan, plan_expiry,
	active_subscription_id, external_customer_id, has_chargeback,
	reports_this_month, created_at, updated_at`

const subscriptionColumns = `id, user_id, plan, status, external_order_id,
	external_product_id, amount, currency, payment_method, start_date,
	end_date, next_billing_date, cancelled_at, raw_event, created_at, updated_at`

func (ps *PGStore) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (ps *PGStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (ps *PGStore) SubscriptionByOrderID(ctx context.Context, orderID string) (*Subscription, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_order_id = $1`, orderID)
	return scanSubscription(row)
}

func (ps *PGStore) LapsedSubscriptions(ctx context.Context, asOf time.Time) ([]*Subscription, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND end_date < $2`, StatusActive, asOf)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var lapsed []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		lapsed = append(lapsed, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return lapsed, nil
}

func (ps *PGStore) Apply(ctx context.Context, sub *Subscription, user *User) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// User first: the subscription row carries a foreign key to its owner.
	if user != nil {
		if err := upsertUser(ctx, tx, user); err != nil {
			return err
		}
	}
	if sub != nil {
		if err := upsertSubscription(ctx, tx, sub); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func upsertUser(ctx context.Context, tx pgx.Tx, u *User) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			plan = EXCLUDED.plan,
			plan_expiry = EXCLUDED.plan_expiry,
			active_subscription_id = EXCLUDED.active_subscription_id,
			external_customer_id = EXCLUDED.external_customer_id,
			has_chargeback = EXCLUDED.has_chargeback,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Plan, u.PlanExpiry,
		u.ActiveSubscriptionID, u.ExternalCustomerID, u.HasChargeback,
		u.ReportsThisMonth, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func upsertSubscription(ctx context.Context, tx pgx.Tx, s *Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (external_order_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			payment_method = EXCLUDED.payment_method,
			end_date = EXCLUDED.end_date,
			next_billing_date = EXCLUDED.next_billing_date,
			cancelled_at = EXCLUDED.cancelled_at,
			raw_event = EXCLUDED.raw_event,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.UserID, s.Plan, s.Status, s.ExternalOrderID,
		s.ExternalProductID, s.Amount, s.Currency, s.PaymentMethod,
		s.StartDate, s.EndDate, s.NextBillingDate, s.CancelledAt,
		s.RawEvent, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Plan,
		&u.PlanExpiry, &u.ActiveSubscriptionID, &u.ExternalCustomerID,
		&u.HasChargeback, &u.ReportsThisMonth, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return &u, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.Plan, &s.Status, &s.ExternalOrderID,
		&s.ExternalProductID, &s.Amount, &s.Currency, &s.PaymentMethod,
		&s.StartDate, &s.EndDate, &s.NextBillingDate, &s.CancelledAt,
		&s.RawEvent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return &s, nil
}
