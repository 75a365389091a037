package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// AuditStore appends strategy lifecycle and archive events to audit_log.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

var _ domain.AuditStore = (*AuditStore)(nil)

const insertAudit = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`

// Log records event with detail as JSONB. A nil detail is stored as {}.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload := []byte("{}")
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
		}
		payload = b
	}
	if _, err := s.pool.Exec(ctx, insertAudit, event, payload); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}
