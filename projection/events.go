package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// EventStore persists the ledger's transition events into the append-only
// agreement_events table. It implements ledger.Emitter; a sink failure is
// logged and never propagated back into the transition that emitted it.
type EventStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool, timeout: 5 * time.Second}
}

// Emit appends one transition record.
func (s *EventStore) Emit(event *ledger.Event) {
	if event == nil {
		return
	}

	payload, err := json.Marshal(event.Attributes)
	if err != nil {
		log.Printf("projection: marshal event payload: %v", err)
		return
	}
	addr := strings.ToLower(event.Attributes["address"])

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	const query = `
		INSERT INTO agreement_events (agreement_address, type, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	if _, err := s.pool.Exec(ctx, query, addr, event.Type, payload); err != nil {
		log.Printf("projection: record event %s for %s: %v", event.Type, addr, err)
	}
}

// List returns the recorded events for one agreement in emission order.
func (s *EventStore) List(ctx context.Context, agreementAddress string) ([]LedgerEvent, error) {
	const query = `
		SELECT id, agreement_address, type, payload, created_at
		FROM agreement_events
		WHERE agreement_address = $1
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, strings.ToLower(agreementAddress))
	if err != nil {
		return nil, fmt.Errorf("projection: list events: %w", err)
	}
	defer rows.Close()

	events := make([]LedgerEvent, 0, 8)
	for rows.Next() {
		var (
			event   LedgerEvent
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.AgreementAddress, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("projection: scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &event.Attributes); err != nil {
			return nil, fmt.Errorf("projection: decode event payload: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projection: iterate events: %w", err)
	}
	return events, nil
}
