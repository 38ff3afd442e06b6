package sheets

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pocketmoney/internal/core"
	"pocketmoney/internal/events"
)

// TimestampLayout is how entry times are written to the sheet. Spreadsheets
// parse it as a date-time when values are entered as USER_ENTERED.
const TimestampLayout = "2006-01-02 15:04:05"

// Header is the first row of every ledger sheet. Column order matches Values.
var Header = []any{"Timestamp", "Child ID", "Kind", "Category", "Description", "Amount", "Balance", "Transaction ID", "Event ID"}

// EventIDColumn is the sheet column holding LedgerRow.EventID.
const EventIDColumn = "I"

var (
	ErrMissingEventID = errors.New("ledger row has no event id")
	ErrMissingChild   = errors.New("ledger row has no child id")
)

// LedgerRow is one mirrored ledger entry.
type LedgerRow struct {
	EventID       string
	OccurredAt    time.Time
	ChildID       int64
	Kind          events.Kind
	Category      string
	Description   string
	Amount        core.Money
	Balance       core.Money
	TransactionID int64
}

// RowFromEvent flattens a ledger event into a sheet row.
func RowFromEvent(ev events.LedgerEvent) LedgerRow {
	at := ev.OccurredAt
	if at.IsZero() {
		at = ev.Transaction.Timestamp
	}
	return LedgerRow{
		EventID:       ev.ID,
		OccurredAt:    at,
		ChildID:       ev.ChildID,
		Kind:          ev.Kind,
		Category:      ev.Transaction.Category,
		Description:   strings.TrimSpace(ev.Transaction.Description),
		Amount:        ev.Transaction.Amount,
		Balance:       ev.Balance,
		TransactionID: ev.Transaction.ID,
	}
}

func (r LedgerRow) Validate() error {
	if strings.TrimSpace(r.EventID) == "" {
		return ErrMissingEventID
	}
	if r.ChildID <= 0 {
		return ErrMissingChild
	}
	return nil
}

// Year is the calendar year whose sheet holds the row, in UTC.
func (r LedgerRow) Year() int {
	return r.OccurredAt.UTC().Year()
}

// Values renders the row in Header order. Amounts are plain decimals so the
// sheet can sum them.
func (r LedgerRow) Values() []any {
	return []any{
		r.OccurredAt.UTC().Format(TimestampLayout),
		r.ChildID,
		string(r.Kind),
		r.Category,
		r.Description,
		r.Amount.String(),
		r.Balance.String(),
		r.TransactionID,
		r.EventID,
	}
}

func (r LedgerRow) String() string {
	return fmt.Sprintf("%s child=%d %s %s", r.EventID, r.ChildID, r.Kind, r.Amount)
}
