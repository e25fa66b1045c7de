package core

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Date is a calendar day (UTC midnight), rendered as "2006-01-02" in JSON and query params.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	return Date{DateOf(t)}
}

// ParseDate accepts "2006-01-02" or a full RFC3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = CleanDigits(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return NewDate(t), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = Date{}
		return nil
	}
	date, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = date
	return nil
}

// UnmarshalParam binds query params.
func (d *Date) UnmarshalParam(param string) error {
	date, err := ParseDate(param)
	if err != nil {
		return err
	}
	*d = date
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Time, nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = NewDate(v)
	case string:
		return d.UnmarshalParam(v)
	case []byte:
		return d.UnmarshalParam(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
	return nil
}

// Between reports whether d is within [from, to]; zero bounds are open.
func (d Date) Between(from, to Date) bool {
	if !from.IsZero() && d.Before(from.Time) {
		return false
	}
	if !to.IsZero() && d.After(to.Time) {
		return false
	}
	return true
}
