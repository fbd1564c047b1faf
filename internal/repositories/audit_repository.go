package repositories

import (
	"context"
	"database/sql"
	"sync"

	"github.com/varad2005/healthnova-consult/internal/models"
)

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Record one authorization decision
func (r *PostgresAuditRepository) Record(ctx context.Context, rec *models.AuditRecord) error {
	const query = `
	INSERT INTO consult_audit_log (
		id,
		user_id,
		role,
		room_id,
		operation,
		outcome,
		detail,
		created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	RETURNING created_at
	`

	return r.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.Role,
		rec.RoomID,
		rec.Operation,
		rec.Outcome,
		rec.Detail,
	).Scan(&rec.CreatedAt)
}

// MemoryAuditRepository collects audit records in memory for local
// development and tests.
type MemoryAuditRepository struct {
	mu   sync.Mutex
	recs []models.AuditRecord
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Record(ctx context.Context, rec *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recs = append(r.recs, *rec)
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (r *MemoryAuditRepository) Records() []models.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.AuditRecord, len(r.recs))
	copy(out, r.recs)
	return out
}
