package storage

import (
	"fmt"
	"strings"
	"time"
)

// flexTime scans DATE and TIMESTAMP columns whether the driver hands back
// time.Time (lib/pq, modernc with declared types) or text.
type flexTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (f *flexTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		f.Time, f.Valid = time.Time{}, false
		return nil
	case time.Time:
		f.Time, f.Valid = v.UTC(), true
		return nil
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (f *flexTime) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time, f.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as time", s)
}
