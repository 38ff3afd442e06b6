package sheets

import (
	"context"
)

// Ports for outbound adapters.
type (
	// LedgerMirror appends one committed ledger entry to an external copy of
	// the ledger.
	LedgerMirror interface {
		AppendLedgerRow(ctx context.Context, row LedgerRow) (rowRef string, err error)
	}

	// EventIndex lists the event ids already mirrored for a year, so a
	// restarted worker does not write the same entry twice.
	EventIndex interface {
		MirroredEventIDs(ctx context.Context, year int) ([]string, error)
	}
)
