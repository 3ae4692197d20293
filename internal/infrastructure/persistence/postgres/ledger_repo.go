package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLedgerPageSize is how many rows one ListActivity round trip fetches.
const DefaultLedgerPageSize = 500

// LedgerRepository implements ledger.Repository for PostgreSQL.
type LedgerRepository struct {
	conn     *Connection
	pageSize int
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn, pageSize: DefaultLedgerPageSize}
}

// ListActivity returns the complete ledger of the user, oldest first.
// Rows are fetched with keyset pagination on (created_at, id) so that a large
// ledger never silently truncates.
func (r *LedgerRepository) ListActivity(ctx context.Context, userID string) ([]*ledger.ActivityRecord, error) {
	query := `
		SELECT id, user_id, activity_type, points, description, metadata, created_at
		FROM activities
		WHERE user_id = $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id
		LIMIT $4
	`

	var (
		out       []*ledger.ActivityRecord
		afterTime time.Time
		afterID   string
	)
	for {
		rows, err := r.conn.Query(ctx, query, userID, afterTime, afterID, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list activity: %w", err)
		}
		page, err := scanActivities(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < r.pageSize {
			return out, nil
		}
		last := page[len(page)-1]
		afterTime, afterID = last.CreatedAt, last.ID
	}
}

// AppendActivity inserts a ledger row.
func (r *LedgerRepository) AppendActivity(ctx context.Context, record *ledger.ActivityRecord) (*ledger.ActivityRecord, error) {
	if err := insertActivity(ctx, r.conn, record); err != nil {
		if IsForeignKeyViolation(err) {
			return nil, profile.ErrProfileMissing
		}
		return nil, err
	}
	return record, nil
}

func insertActivity(ctx context.Context, q Querier, record *ledger.ActivityRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO activities (id, user_id, activity_type, points, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		record.ID,
		record.UserID,
		string(record.ActivityType),
		record.Points,
		record.Description,
		metadata,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func scanActivities(rows pgx.Rows) ([]*ledger.ActivityRecord, error) {
	defer rows.Close()

	var out []*ledger.ActivityRecord
	for rows.Next() {
		var (
			rec      ledger.ActivityRecord
			typ      string
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &rec.Points, &rec.Description, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.ActivityType = ledger.ActivityType(typ)
		rec.Metadata = map[string]any{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal activity metadata: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
