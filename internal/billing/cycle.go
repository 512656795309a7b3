package billing

import (
	"fmt"
	"time"
)

// Period identifies one billing cycle: the year-month a statement belongs to.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodFor returns the calendar period containing d.
func PeriodFor(d time.Time) Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

// ParsePeriod parses a "YYYY-MM" key.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// String renders the period as its "YYYY-MM" storage key.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// AddMonths returns the period n months after p (n may be negative).
func (p Period) AddMonths(n int) Period {
	t := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Next returns the period immediately after p.
func (p Period) Next() Period { return p.AddMonths(1) }

// Compare orders periods chronologically (-1, 0, 1).
func (p Period) Compare(q Period) int {
	a := p.Year*12 + int(p.Month)
	b := q.Year*12 + int(q.Month)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// PeriodOf maps a purchase date to its billing period for an account that
// closes on closingDay (1..28). A purchase made after the closing day rolls
// into the next period.
func PeriodOf(purchaseDate time.Time, closingDay int) Period {
	p := PeriodFor(purchaseDate)
	if purchaseDate.Day() > closingDay {
		p = p.Next()
	}
	return p
}

// DueDate returns the payment due date for a period: the dueDay-th day of the
// month immediately following the period.
func DueDate(p Period, dueDay int) time.Time {
	next := p.Next()
	return time.Date(next.Year, next.Month, dueDay, 0, 0, 0, 0, time.UTC)
}

// WindowStart returns the first day of the billing window for a period: the
// (closingDay+1)-th day of the month immediately preceding the period. Every
// date from WindowStart(p) through the closingDay-th of p maps back to p.
func WindowStart(p Period, closingDay int) time.Time {
	prev := p.AddMonths(-1)
	return time.Date(prev.Year, prev.Month, closingDay+1, 0, 0, 0, 0, time.UTC)
}
