package core

import "time"

// Age returns the whole years completed between birth and ref.
//
// The comparison is on calendar days only: the age increments on the
// anniversary itself. A nil birth date yields 0. A child born on 29 February
// turns a year older on 1 March in non-leap years.
func Age(birth *Date, ref time.Time) int {
	if birth == nil || birth.IsZero() {
		return 0
	}
	by, bm, bd := birth.Date()
	ry, rm, rd := ref.Date()

	age := ry - by
	if rm < bm || (rm == bm && rd < bd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// AgeNow is Age against the current local day.
func AgeNow(birth *Date) int {
	return Age(birth, time.Now())
}
