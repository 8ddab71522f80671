package device

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides CRUD operations for the device registry.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Register inserts a device, or refreshes its mutable fields if the
// (user_id, id) pair is already on file.
func (r *Repository) Register(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.LastActivity = now

	query := `
		INSERT INTO devices (id, user_id, name, user_agent, trusted, jailbroken, screen_lock_enabled, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			user_agent = EXCLUDED.user_agent,
			jailbroken = EXCLUDED.jailbroken,
			screen_lock_enabled = EXCLUDED.screen_lock_enabled,
			last_activity = EXCLUDED.last_activity`

	_, err := r.db.Exec(ctx, query,
		d.ID, d.UserID, d.Name, d.UserAgent, d.Trusted,
		d.SecurityStatus.Jailbroken, d.SecurityStatus.ScreenLockEnabled,
		d.LastActivity, d.CreatedAt,
	)
	return err
}

// List returns all devices on file for a user, most recently active first.
func (r *Repository) List(ctx context.Context, userID string) ([]Device, error) {
	query := `SELECT id, user_id, name, user_agent, trusted, jailbroken, screen_lock_enabled, last_activity, created_at
	          FROM devices WHERE user_id = $1
	          ORDER BY last_activity DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetByID retrieves one device for a user.
func (r *Repository) GetByID(ctx context.Context, userID, id string) (*Device, error) {
	query := `SELECT id, user_id, name, user_agent, trusted, jailbroken, screen_lock_enabled, last_activity, created_at
	          FROM devices WHERE user_id = $1 AND id = $2`

	d, err := scanDevice(r.db.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// RevokeTrust clears the trusted flag for a device. Used by the threat
// engine's auto-response path; satisfies threat.TrustRevoker.
func (r *Repository) RevokeTrust(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE devices SET trusted = false WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch updates a device's last activity timestamp.
func (r *Repository) Touch(ctx context.Context, userID, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE devices SET last_activity = $3 WHERE user_id = $1 AND id = $2`,
		userID, id, time.Now().UTC(),
	)
	return err
}

// Delete removes a device from the registry.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM devices WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.UserAgent, &d.Trusted,
		&d.SecurityStatus.Jailbroken, &d.SecurityStatus.ScreenLockEnabled,
		&d.LastActivity, &d.CreatedAt,
	)
	return d, err
}
