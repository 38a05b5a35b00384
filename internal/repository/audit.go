package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditLog is the persisted form of a state-transition event. Rows are append-only:
// there is no update or delete path, matching the retention requirement on the
// settlement trail.
type AuditLog struct {
	ID         string    `db:"id"`
	EventType  string    `db:"event_type"`
	Entity     string    `db:"entity"`
	EntityID   string    `db:"entity_id"`
	FromState  string    `db:"from_state"`
	ToState    string    `db:"to_state"`
	OccurredAt time.Time `db:"occurred_at"`
	CreatedAt  time.Time `db:"created_at"`
}

type AuditRepository interface {
	Insert(log *AuditLog) (*AuditLog, error)
	GetAllByEntity(entity, entityID string) ([]AuditLog, bool, error)
}

type AuditRepositoryImpl struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &AuditRepositoryImpl{db: db}
}

func (repo *AuditRepositoryImpl) Insert(log *AuditLog) (*AuditLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var created AuditLog

	query := `
		INSERT INTO audit_logs (event_type, entity, entity_id, from_state, to_state, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`

	err := repo.db.GetContext(ctx, &created, query,
		log.EventType,
		log.Entity,
		log.EntityID,
		log.FromState,
		log.ToState,
		log.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (repo *AuditRepositoryImpl) GetAllByEntity(entity, entityID string) ([]AuditLog, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var logs []AuditLog

	query := `
		SELECT * FROM audit_logs WHERE entity = $1 AND entity_id = $2
		ORDER BY occurred_at ASC`

	err := repo.db.SelectContext(ctx, &logs, query, entity, entityID)
	if err != nil {
		return nil, false, err
	}

	return logs, len(logs) > 0, nil
}
