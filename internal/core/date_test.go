package core

import (
	"testing"
)

func TestAdvanceDaily(t *testing.T) {
	got := Advance(NewDate(2025, 3, 31), IntervalDaily)
	if !got.Equal(NewDate(2025, 4, 1)) {
		t.Fatalf("expected 2025-04-01, got %s", got)
	}
}

func TestAdvanceWeekly(t *testing.T) {
	got := Advance(NewDate(2025, 12, 29), IntervalWeekly)
	if !got.Equal(NewDate(2026, 1, 5)) {
		t.Fatalf("expected 2026-01-05, got %s", got)
	}
}

func TestAdvanceMonthlyClamping(t *testing.T) {
	cases := []struct {
		name string
		in   Date
		want Date
	}{
		{"jan 31 to feb 28 non-leap", NewDate(2025, 1, 31), NewDate(2025, 2, 28)},
		{"jan 31 to feb 29 leap", NewDate(2024, 1, 31), NewDate(2024, 2, 29)},
		{"mar 31 to apr 30", NewDate(2025, 3, 31), NewDate(2025, 4, 30)},
		{"mid month unchanged", NewDate(2025, 5, 15), NewDate(2025, 6, 15)},
		{"dec rolls into next year", NewDate(2025, 12, 31), NewDate(2026, 1, 31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Advance(tc.in, IntervalMonthly)
			if !got.Equal(tc.want) {
				t.Fatalf("Advance(%s, MONTHLY) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestAdvanceYearlyLeapClamping(t *testing.T) {
	got := Advance(NewDate(2024, 2, 29), IntervalYearly)
	if !got.Equal(NewDate(2025, 2, 28)) {
		t.Fatalf("Feb 29 + 1y = %s, want 2025-02-28", got)
	}

	got = Advance(NewDate(2025, 7, 4), IntervalYearly)
	if !got.Equal(NewDate(2026, 7, 4)) {
		t.Fatalf("expected 2026-07-04, got %s", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2025 || d.Month() != 6 || d.Day() != 9 {
		t.Fatalf("unexpected parts: %d-%d-%d", d.Year(), d.Month(), d.Day())
	}

	if _, err := ParseDate("09/06/2025"); err == nil {
		t.Fatal("expected error for wrong format")
	}
}

func TestDateComparisons(t *testing.T) {
	a := NewDate(2025, 1, 1)
	b := NewDate(2025, 1, 2)
	if !a.Before(b) || !b.After(a) || a.Equal(b) {
		t.Fatal("comparison mismatch")
	}
	if got := b.StartOfMonth(); !got.Equal(a) {
		t.Fatalf("StartOfMonth = %s, want %s", got, a)
	}
}
