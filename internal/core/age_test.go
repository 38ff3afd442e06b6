package core

import (
	"testing"
	"time"
)

func TestAge(t *testing.T) {
	dob := NewDate(2015, 11, 1)
	cases := []struct {
		name string
		ref  time.Time
		want int
	}{
		{"before birthday", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 10},
		{"day before anniversary", time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC), 10},
		{"on anniversary", time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), 11},
		{"day after anniversary", time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), 11},
		{"birth day itself", time.Date(2015, 11, 1, 8, 0, 0, 0, time.UTC), 0},
		{"reference before birth", time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Age(&dob, tc.ref); got != tc.want {
				t.Errorf("Age() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAgeNilBirthDate(t *testing.T) {
	if got := Age(nil, time.Now()); got != 0 {
		t.Fatalf("Age(nil) = %d, want 0", got)
	}
	if got := AgeNow(nil); got != 0 {
		t.Fatalf("AgeNow(nil) = %d, want 0", got)
	}
	if got := Age(&Date{}, time.Now()); got != 0 {
		t.Fatalf("Age(zero) = %d, want 0", got)
	}
}

func TestAgeLeapDay(t *testing.T) {
	dob := NewDate(2016, 2, 29)
	if got := Age(&dob, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)); got != 8 {
		t.Fatalf("Feb 28 = %d, want 8", got)
	}
	if got := Age(&dob, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); got != 9 {
		t.Fatalf("Mar 1 = %d, want 9", got)
	}
}

func TestAgeNow(t *testing.T) {
	dob := NewDate(time.Now().Year()-12, 1, 1)
	if got := AgeNow(&dob); got != 12 {
		t.Fatalf("AgeNow() = %d, want 12", got)
	}
}
