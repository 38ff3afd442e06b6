package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Transaction categories written by the ledger itself. Withdrawals and signed
// adjustments may carry any other non-empty category.
const (
	CategoryDeposit     = "Deposit"
	CategorySpend       = "Spend"
	CategoryCorrection  = "Correction"
	CategoryPocketMoney = "Pocket Money"
	CategoryGoalMet     = "Goal Met"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day without time of day, always in UTC.
	Date struct {
		time.Time
	}

	// Child owns a balance that must always equal the sum of its transactions.
	Child struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Balance   Money     `json:"balance"`
		BirthDate *Date     `json:"birth_date"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Transaction is an append-only ledger entry. Positive amounts credit the
	// child, negative amounts debit it.
	Transaction struct {
		ID          int64     `json:"id"`
		ChildID     int64     `json:"child_id"`
		Amount      Money     `json:"amount"`
		Description string    `json:"description"`
		Category    string    `json:"category"`
		PayoutCycle string    `json:"payout_cycle,omitempty"`
		Timestamp   time.Time `json:"timestamp"`
	}

	// Wish is a savings goal. Nothing links it to the balance structurally.
	Wish struct {
		ID       int64  `json:"id"`
		ChildID  int64  `json:"child_id"`
		ItemName string `json:"item_name"`
		Cost     Money  `json:"cost"`
	}
)

// Length limits, in characters.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 200
	MaxItemNameLength    = 200
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyName          = errors.New("empty name")
	ErrEmptyItemName      = errors.New("empty item name")
	ErrBirthDateInFuture  = errors.New("birth date is in the future")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrStorage            = errors.New("storage failure")
	ErrBalanceChanged     = errors.New("balance changed concurrently")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrNameTooLong        = errors.New("name too long (max 100 characters)")
	ErrItemNameTooLong    = errors.New("item name too long (max 200 characters)")
	ErrInvalidDate        = errors.New("invalid date")
)

var validationErrors = []error{
	ErrInvalidAmount, ErrEmptyName, ErrEmptyItemName, ErrBirthDateInFuture,
	ErrDescriptionTooLong, ErrNameTooLong, ErrItemNameTooLong, ErrInvalidDate,
}

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Validate rejects the zero date, which is what an unset field decodes to.
func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ValidateName trims and checks a child's display name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ValidateBirthDate rejects birth dates after the reference day.
func ValidateBirthDate(d Date, ref time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.After(DateOf(ref).Time) {
		return ErrBirthDateInFuture
	}
	return nil
}

// ValidateDescription allows empty descriptions but caps their length.
func ValidateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", ErrDescriptionTooLong
	}
	return desc, nil
}

func (w Wish) Validate() error {
	if strings.TrimSpace(w.ItemName) == "" {
		return ErrEmptyItemName
	}
	if utf8.RuneCountInString(w.ItemName) > MaxItemNameLength {
		return ErrItemNameTooLong
	}
	return w.Cost.Validate()
}
