package memory

import (
	"context"
	"fmt"
	"sync"

	ports "pocketmoney/internal/sheets"
)

// Store mirrors ledger rows in process memory. ledger-sync falls back to it
// when no spreadsheet is configured.
type Store struct {
	mu   sync.Mutex
	rows []ports.LedgerRow
}

var (
	_ ports.LedgerMirror = (*Store)(nil)
	_ ports.EventIndex   = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// AppendLedgerRow stores the row and returns a synthetic row reference.
func (s *Store) AppendLedgerRow(_ context.Context, row ports.LedgerRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// MirroredEventIDs returns the event ids stored for year, in append order.
func (s *Store) MirroredEventIDs(_ context.Context, year int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.rows {
		if r.Year() == year {
			ids = append(ids, r.EventID)
		}
	}
	return ids, nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.LedgerRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.LedgerRow(nil), s.rows...)
}
