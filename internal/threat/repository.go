package threat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a persisted threat does not exist.
var ErrNotFound = errors.New("threat not found")

// Repository persists findings across detection cycles. The engine only ever
// reads unresolved findings back; writes happen at the API layer (when a
// caller asks for persistence) and via Resolve.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts one finding.
func (r *Repository) Create(ctx context.Context, f *Finding) error {
	sessionJSON, deviceJSON, err := marshalContexts(f)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO threats (id, user_id, type, severity, title, description, detected_at, resolved, resolved_at, session_context, device_context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		f.ID, f.UserID, f.Type, f.Severity, f.Title, f.Description,
		f.DetectedAt, f.Resolved, f.ResolvedAt, sessionJSON, deviceJSON,
	)
	return err
}

// CreateBatch inserts findings inside one transaction. Used by the API layer
// to persist a detection cycle's fresh findings.
func (r *Repository) CreateBatch(ctx context.Context, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range findings {
		f := &findings[i]
		sessionJSON, deviceJSON, err := marshalContexts(f)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO threats (id, user_id, type, severity, title, description, detected_at, resolved, resolved_at, session_context, device_context)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			f.ID, f.UserID, f.Type, f.Severity, f.Title, f.Description,
			f.DetectedAt, f.Resolved, f.ResolvedAt, sessionJSON, deviceJSON,
		); err != nil {
			return fmt.Errorf("insert finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves one finding.
func (r *Repository) GetByID(ctx context.Context, id string) (*Finding, error) {
	query := selectFindings + ` WHERE id = $1`
	f, err := scanFinding(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListByUser returns a user's findings, newest first. resolved filters by
// lifecycle state; nil means both.
func (r *Repository) ListByUser(ctx context.Context, userID string, resolved *bool, limit, offset int) ([]Finding, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectFindings + `
		WHERE user_id = $1 AND ($2::boolean IS NULL OR resolved = $2)
		ORDER BY detected_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, userID, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFindings(rows)
}

// ListUnresolved returns all unresolved findings for a user, oldest first so
// the merge order of a detection cycle is stable. Satisfies ThreatStore.
func (r *Repository) ListUnresolved(ctx context.Context, userID string) ([]Finding, error) {
	query := selectFindings + `
		WHERE user_id = $1 AND NOT resolved
		ORDER BY detected_at ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFindings(rows)
}

// Resolve marks a finding resolved, setting resolved and resolved_at
// together; the two fields never diverge. Resolving an already-resolved or
// unknown finding returns ErrNotFound.
func (r *Repository) Resolve(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE threats SET resolved = true, resolved_at = $2 WHERE id = $1 AND NOT resolved`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnresolvedBySeverity tallies a user's open findings per severity.
func (r *Repository) CountUnresolvedBySeverity(ctx context.Context, userID string) (map[Severity]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT severity, COUNT(*) FROM threats WHERE user_id = $1 AND NOT resolved GROUP BY severity`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Severity]int)
	for rows.Next() {
		var sev Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

const selectFindings = `
	SELECT id, user_id, type, severity, title, description, detected_at, resolved, resolved_at, session_context, device_context
	FROM threats`

func marshalContexts(f *Finding) ([]byte, []byte, error) {
	var sessionJSON, deviceJSON []byte
	var err error
	if f.Session != nil {
		if sessionJSON, err = json.Marshal(f.Session); err != nil {
			return nil, nil, fmt.Errorf("marshal session context: %w", err)
		}
	}
	if f.Device != nil {
		if deviceJSON, err = json.Marshal(f.Device); err != nil {
			return nil, nil, fmt.Errorf("marshal device context: %w", err)
		}
	}
	return sessionJSON, deviceJSON, nil
}

func scanFinding(row pgx.Row) (Finding, error) {
	var f Finding
	var sessionJSON, deviceJSON []byte
	if err := row.Scan(
		&f.ID, &f.UserID, &f.Type, &f.Severity, &f.Title, &f.Description,
		&f.DetectedAt, &f.Resolved, &f.ResolvedAt, &sessionJSON, &deviceJSON,
	); err != nil {
		return f, err
	}

	if len(sessionJSON) > 0 {
		f.Session = &SessionContext{}
		if err := json.Unmarshal(sessionJSON, f.Session); err != nil {
			return f, fmt.Errorf("unmarshal session context: %w", err)
		}
	}
	if len(deviceJSON) > 0 {
		f.Device = &DeviceContext{}
		if err := json.Unmarshal(deviceJSON, f.Device); err != nil {
			return f, fmt.Errorf("unmarshal device context: %w", err)
		}
	}
	return f, nil
}

func collectFindings(rows pgx.Rows) ([]Finding, error) {
	var findings []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
