package billing

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodOfBeforeAndAfterClosing(t *testing.T) {
	cases := []struct {
		d       time.Time
		closing int
		want    string
	}{
		{date(2025, time.January, 15), 15, "2025-01"},
		{date(2025, time.January, 16), 15, "2025-02"},
		{date(2025, time.December, 20), 15, "2026-01"},
		{date(2025, time.January, 1), 1, "2025-01"},
		{date(2025, time.January, 2), 1, "2025-02"},
		{date(2024, time.February, 28), 28, "2024-02"},
		{date(2024, time.February, 29), 28, "2024-03"},
	}
	for _, c := range cases {
		if got := PeriodOf(c.d, c.closing).String(); got != c.want {
			t.Fatalf("PeriodOf(%s, %d)=%s, want %s", c.d.Format("2006-01-02"), c.closing, got, c.want)
		}
	}
}

func TestPeriodOfExhaustive(t *testing.T) {
	// Property: period equals the date's month if day <= closing day, else the
	// next month, for every closing day and every day of 2025.
	for closing := 1; closing <= 28; closing++ {
		d := date(2025, time.January, 1)
		for d.Year() == 2025 {
			want := PeriodFor(d)
			if d.Day() > closing {
				want = want.Next()
			}
			if got := PeriodOf(d, closing); got != want {
				t.Fatalf("PeriodOf(%s, %d)=%s, want %s", d.Format("2006-01-02"), closing, got, want)
			}
			d = d.AddDate(0, 0, 1)
		}
	}
}

func TestDueDate(t *testing.T) {
	p := Period{Year: 2025, Month: time.February}
	got := DueDate(p, 5)
	if !got.Equal(date(2025, time.March, 5)) {
		t.Fatalf("DueDate=%s, want 2025-03-05", got.Format("2006-01-02"))
	}
	// Year rollover.
	got = DueDate(Period{Year: 2025, Month: time.December}, 10)
	if !got.Equal(date(2026, time.January, 10)) {
		t.Fatalf("DueDate=%s, want 2026-01-10", got.Format("2006-01-02"))
	}
}

func TestWindowStart(t *testing.T) {
	p := Period{Year: 2025, Month: time.February}
	got := WindowStart(p, 15)
	if !got.Equal(date(2025, time.January, 16)) {
		t.Fatalf("WindowStart=%s, want 2025-01-16", got.Format("2006-01-02"))
	}
}

func TestWindowRoundTrip(t *testing.T) {
	// Property: every date in [WindowStart(p), closing day of p] maps back to p.
	for closing := 1; closing <= 28; closing++ {
		for m := time.January; m <= time.December; m++ {
			p := Period{Year: 2025, Month: m}
			end := date(2025, m, closing)
			for d := WindowStart(p, closing); !d.After(end); d = d.AddDate(0, 0, 1) {
				if got := PeriodOf(d, closing); got != p {
					t.Fatalf("PeriodOf(%s, %d)=%s, want %s", d.Format("2006-01-02"), closing, got, p)
				}
			}
		}
	}
}

func TestPeriodKeyRoundTrip(t *testing.T) {
	p := Period{Year: 2025, Month: time.September}
	parsed, err := ParsePeriod(p.String())
	if err != nil {
		t.Fatalf("ParsePeriod: %v", err)
	}
	if parsed != p {
		t.Fatalf("round trip mismatch: %s != %s", parsed, p)
	}
	if _, err := ParsePeriod("not-a-period"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPeriodArithmetic(t *testing.T) {
	p := Period{Year: 2025, Month: time.November}
	if got := p.AddMonths(3); got != (Period{Year: 2026, Month: time.February}) {
		t.Fatalf("AddMonths(3)=%s", got)
	}
	if got := p.AddMonths(-11); got != (Period{Year: 2024, Month: time.December}) {
		t.Fatalf("AddMonths(-11)=%s", got)
	}
	if p.Compare(p.Next()) != -1 || p.Next().Compare(p) != 1 || p.Compare(p) != 0 {
		t.Fatal("Compare ordering broken")
	}
}
