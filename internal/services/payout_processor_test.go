package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketmoney/internal/core"
)

var friday = time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC) // ISO week 2026-W43

func TestPayoutRunCreditsAgeTimesRate(t *testing.T) {
	st, svc, pub := newTestLedger(t)
	ctx := context.Background()
	svc.SetClock(func() time.Time { return friday })

	tenYearsAgo := core.NewDate(2016, 10, 23)
	threeYearsAgo := core.NewDate(2023, 1, 5)
	newborn := core.NewDate(2026, 10, 1)
	ten := mustRegister(t, svc, "Ten", &tenYearsAgo)
	three := mustRegister(t, svc, "Three", &threeYearsAgo)
	baby := mustRegister(t, svc, "Baby", &newborn)
	noDOB := mustRegister(t, svc, "Unknown", nil)

	p := NewPayoutProcessor(st, svc, DefaultUnitRate, WeeklyWindow{}, time.UTC)
	res, err := p.Run(ctx, friday)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Run.Status != core.PayoutStatusCommitted || res.Run.CycleKey != "2026-W43" {
		t.Fatalf("unexpected run: %+v", res.Run)
	}
	if res.Run.ChildrenPaid != 2 || res.Run.Total.Cents != 500+150 {
		t.Fatalf("paid %d children, total %s", res.Run.ChildrenPaid, res.Run.Total)
	}

	want := map[int64]int64{ten.ID: 500, three.ID: 150, baby.ID: 0, noDOB.ID: 0}
	for id, c := range want {
		child, _ := svc.GetChild(ctx, id)
		if child.Balance.Cents != c {
			t.Fatalf("child %d balance = %s, want %d cents", id, child.Balance, c)
		}
		assertInvariant(t, svc, id)
	}

	hist, _ := svc.History(ctx, ten.ID, 0, 10)
	if len(hist) != 1 || hist[0].Category != core.CategoryPocketMoney || hist[0].Description != "Weekly Pocket Money (Age 10)" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if pub.count() != 2 {
		t.Fatalf("published %d events, want 2", pub.count())
	}
}

func TestPayoutRunTwiceInSameWindowPaysOnce(t *testing.T) {
	st, svc, _ := newTestLedger(t)
	ctx := context.Background()
	dob := core.NewDate(2016, 1, 1)
	c := mustRegister(t, svc, "Mia", &dob)

	p := NewPayoutProcessor(st, svc, DefaultUnitRate, WeeklyWindow{}, time.UTC)
	if _, err := p.Run(ctx, friday); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := p.Run(ctx, friday.Add(26*time.Hour)) // Saturday, same ISO week
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Run.ChildrenPaid != 0 || len(res.Skipped) != 1 || res.Skipped[0] != c.ID {
		t.Fatalf("second run should skip: %+v", res)
	}

	hist, _ := svc.History(ctx, c.ID, 0, 10)
	if len(hist) != 1 {
		t.Fatalf("history has %d payouts, want 1", len(hist))
	}

	// The next week pays again.
	if _, err := p.Run(ctx, friday.AddDate(0, 0, 7)); err != nil {
		t.Fatalf("next week run: %v", err)
	}
	child, _ := svc.GetChild(ctx, c.ID)
	if child.Balance.Cents != 1000 {
		t.Fatalf("balance = %s, want 10.00 after two weeks", child.Balance)
	}
}

func TestPayoutRunFailureRollsBackWholeBatch(t *testing.T) {
	st, svc, _ := newTestLedger(t)
	ctx := context.Background()
	a := core.NewDate(2014, 3, 3)
	b := core.NewDate(2018, 6, 6)
	first := mustRegister(t, svc, "First", &a)
	second := mustRegister(t, svc, "Second", &b)

	// Fail only on the second child's payout so the first credit has already run.
	_, err := st.DB().ExecContext(ctx, `CREATE TRIGGER fail_second BEFORE INSERT ON transactions
WHEN NEW.child_id = `+strconv.FormatInt(second.ID, 10)+`
BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	p := NewPayoutProcessor(st, svc, DefaultUnitRate, WeeklyWindow{}, time.UTC)
	if _, err := p.Run(ctx, friday); !errors.Is(err, core.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	for _, id := range []int64{first.ID, second.ID} {
		child, _ := svc.GetChild(ctx, id)
		if !child.Balance.IsZero() {
			t.Fatalf("child %d balance = %s after failed run", id, child.Balance)
		}
		assertInvariant(t, svc, id)
	}

	runs, err := p.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != core.PayoutStatusFailed || runs[0].Error == "" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	// Once the store recovers the next trigger pays everyone.
	if _, err := st.DB().ExecContext(ctx, `DROP TRIGGER fail_second`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	res, err := p.Run(ctx, friday.Add(time.Hour))
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if res.Run.ChildrenPaid != 2 {
		t.Fatalf("retry paid %d children, want 2", res.Run.ChildrenPaid)
	}
}

func TestPayoutRunRecordsFailureAfterContextCanceled(t *testing.T) {
	st, svc, _ := newTestLedger(t)
	dob := core.NewDate(2016, 1, 1)
	c := mustRegister(t, svc, "Nora", &dob)

	// The ledger reads the clock while crediting, so the caller goes away
	// in the middle of the batch.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.SetClock(func() time.Time {
		cancel()
		return friday
	})

	p := NewPayoutProcessor(st, svc, DefaultUnitRate, WeeklyWindow{}, time.UTC)
	if _, err := p.Run(ctx, friday); err == nil {
		t.Fatal("expected run to fail after cancellation")
	}

	bg := context.Background()
	runs, err := p.Runs(bg, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	got := runs[0]
	if got.Status != core.PayoutStatusFailed || got.FinishedAt == nil || got.Error == "" {
		t.Fatalf("run left as status=%s finished=%v error=%q", got.Status, got.FinishedAt, got.Error)
	}

	child, _ := svc.GetChild(bg, c.ID)
	if !child.Balance.IsZero() {
		t.Fatalf("balance = %s after canceled run", child.Balance)
	}
	assertInvariant(t, svc, c.ID)
}

func TestPayoutUsesConfiguredTimezone(t *testing.T) {
	st, svc, _ := newTestLedger(t)
	ctx := context.Background()
	// Born 24 Oct: in Auckland it is already the 24th when UTC is still the 23rd.
	dob := core.NewDate(2016, 10, 24)
	c := mustRegister(t, svc, "Kiri", &dob)

	loc, err := time.LoadLocation("Pacific/Auckland")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	p := NewPayoutProcessor(st, svc, decimal.NewFromInt(1), DailyWindow{}, loc)
	if _, err := p.Run(ctx, time.Date(2026, 10, 23, 20, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("run: %v", err)
	}
	child, _ := svc.GetChild(ctx, c.ID)
	if child.Balance.Cents != 1000 {
		t.Fatalf("balance = %s, want 10.00 (age 10 in Auckland)", child.Balance)
	}
}
