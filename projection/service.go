package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"escrowflow/ledger"
	"escrowflow/network"
	"escrowflow/role"
)

// ErrReadFailed signals the authoritative ledger snapshot could not be
// obtained. No partial or stale view is produced in that case.
var ErrReadFailed = errors.New("projection: could not load agreement")

// LedgerReader is the authoritative read interface: a single consistent
// snapshot of all agreement fields.
type LedgerReader interface {
	Get(addr common.Address) (*ledger.Agreement, error)
}

// RoleStore is the advisory off-chain role index, append-only and idempotent.
type RoleStore interface {
	List(ctx context.Context, userAddress string) ([]RoleRecord, error)
	Add(ctx context.Context, rec RoleRecord) error
}

// Service reconstructs display-ready agreement views by combining ledger
// state with locally recorded role metadata. Read-only with respect to the
// ledger; the only write is the lazy, idempotent role-record backfill.
type Service struct {
	ledger     LedgerReader
	roles      RoleStore
	now        func() time.Time
	fetchLimit int
}

func NewService(ledgerReader LedgerReader, roles RoleStore) *Service {
	return &Service{
		ledger:     ledgerReader,
		roles:      roles,
		now:        time.Now,
		fetchLimit: 8,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Fetch produces the merged view of one agreement for the given user. The
// ledger read is the only authoritative input; a missing role record is
// re-derived from the fresh snapshot and persisted best-effort, and a
// failure of that persistence never blocks the view.
func (s *Service) Fetch(ctx context.Context, user, addr common.Address) (Agreement, error) {
	snapshot, err := s.ledger.Get(addr)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	record, ok := s.lookupRecord(ctx, user, addr)
	if !ok {
		record = RoleRecord{
			UserAddress:      strings.ToLower(user.Hex()),
			AgreementAddress: strings.ToLower(addr.Hex()),
			Role:             role.Resolve(snapshot.Creator, snapshot.Depositor, user),
			NetworkID:        snapshot.NetworkID,
			CreatedAt:        s.now(),
		}
		if record.Role != role.None {
			if err := s.roles.Add(ctx, record); err != nil {
				log.Printf("projection: backfill role record for %s: %v", record.AgreementAddress, err)
			}
		}
	}

	return buildView(record, snapshot), nil
}

// FetchAll lists the user's role records and projects each agreement
// concurrently. Agreements whose ledger read fails are skipped rather than
// failing the whole listing; distinct agreements have no ordering
// dependency.
func (s *Service) FetchAll(ctx context.Context, user common.Address) ([]Agreement, error) {
	records, err := s.roles.List(ctx, strings.ToLower(user.Hex()))
	if err != nil {
		return nil, fmt.Errorf("projection: list role records: %w", err)
	}

	views := make([]*Agreement, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i, record := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			addr, err := ledger.ParseAddress(record.AgreementAddress)
			if err != nil {
				log.Printf("projection: skip malformed record %q: %v", record.AgreementAddress, err)
				return nil
			}
			snapshot, err := s.ledger.Get(addr)
			if err != nil {
				log.Printf("projection: skip agreement %s: %v", record.AgreementAddress, err)
				return nil
			}
			view := buildView(record, snapshot)
			views[i] = &view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("projection: fetch agreements: %w", err)
	}

	out := make([]Agreement, 0, len(views))
	for _, view := range views {
		if view != nil {
			out = append(out, *view)
		}
	}
	return out, nil
}

func (s *Service) lookupRecord(ctx context.Context, user, addr common.Address) (RoleRecord, bool) {
	records, err := s.roles.List(ctx, strings.ToLower(user.Hex()))
	if err != nil {
		// advisory store only; fall back to deriving from the ledger
		log.Printf("projection: list role records: %v", err)
		return RoleRecord{}, false
	}
	want := strings.ToLower(addr.Hex())
	for _, record := range records {
		if strings.ToLower(record.AgreementAddress) == want {
			return record, true
		}
	}
	return RoleRecord{}, false
}

func buildView(record RoleRecord, snapshot *ledger.Agreement) Agreement {
	depositor := ""
	if snapshot.Depositor != nil {
		depositor = snapshot.Depositor.Hex()
	}

	counterparty := snapshot.Creator.Hex()
	if record.Role == role.Creator {
		if depositor != "" {
			counterparty = depositor
		} else {
			counterparty = CounterpartyNone
		}
	}

	return Agreement{
		Address:            snapshot.Address.Hex(),
		Creator:            snapshot.Creator.Hex(),
		Depositor:          depositor,
		Role:               record.Role,
		Counterparty:       counterparty,
		Amount:             snapshot.Amount,
		ReleasedAmount:     snapshot.ReleasedAmount,
		ProposedAmount:     snapshot.ProposedAmount,
		Status:             snapshot.Status,
		StatusName:         snapshot.Status.Name(),
		NetworkID:          snapshot.NetworkID,
		NetworkName:        network.DisplayName(snapshot.NetworkID),
		Currency:           network.Symbol(snapshot.NetworkID),
		Title:              snapshot.Title,
		Description:        snapshot.Description,
		DisputeReason:      snapshot.DisputeReason,
		ReleaseDescription: snapshot.ReleaseDescription,
		CancelReason:       snapshot.CancelReason,
		Deadline:           time.Unix(snapshot.Deadline, 0).UTC(),
		CreatedAt:          time.Unix(snapshot.CreatedAt, 0).UTC(),
		FilledAt:           optionalTime(snapshot.FilledAt),
		ReleasedAt:         optionalTime(snapshot.ReleasedAt),
		DisputedAt:         optionalTime(snapshot.DisputedAt),
		CanceledAt:         optionalTime(snapshot.CanceledAt),
		RecordedAt:         record.CreatedAt,
	}
}

func optionalTime(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}
