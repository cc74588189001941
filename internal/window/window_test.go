package window

import (
	"strings"
	"testing"
	"time"

	"github.com/insightops/sitewatch/internal/domain"

	"github.com/google/go-cmp/cmp"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
}

func TestResolve_Recent(t *testing.T) {
	r := Resolver{Now: fixedNow}

	got, err := r.Resolve(Recent(7))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := domain.TimeWindow{
		Start: time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_RecentRejectsNonPositiveDays(t *testing.T) {
	r := Resolver{Now: fixedNow}

	for _, days := range []int{0, -3} {
		if _, err := r.Resolve(Recent(days)); err == nil {
			t.Errorf("Resolve(Recent(%d)) expected error, got nil", days)
		}
	}
}

func TestResolve_RangeCoversEndDay(t *testing.T) {
	r := Resolver{}

	got, err := r.Resolve(Range("20260801", "20260803"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := domain.TimeWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 3, 23, 59, 59, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_SingleDayRange(t *testing.T) {
	r := Resolver{}

	got, err := r.Resolve(Range("20260815", "20260815"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := 24*time.Hour - time.Second; got.Duration() != want {
		t.Errorf("Duration() = %s, want %s", got.Duration(), want)
	}
}

func TestResolve_RangeErrors(t *testing.T) {
	r := Resolver{}

	tests := []struct {
		name    string
		req     Request
		wantSub string
	}{
		{"inverted range", Range("20260810", "20260801"), "not before"},
		{"malformed start", Range("2026-08-01", "20260803"), "invalid start date"},
		{"malformed end", Range("20260801", "03082026"), "invalid end date"},
		{"unknown mode", Request{Mode: "hourly"}, "unknown mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.req)
			if err == nil {
				t.Fatal("Resolve() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Resolve() error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestResolve_MaxLength(t *testing.T) {
	r := Resolver{MaxLength: 93 * 24 * time.Hour, Now: fixedNow}

	if _, err := r.Resolve(Recent(93)); err != nil {
		t.Errorf("Resolve(Recent(93)) error = %v, want nil", err)
	}
	if _, err := r.Resolve(Recent(94)); err == nil {
		t.Error("Resolve(Recent(94)) expected error, got nil")
	}
	if _, err := r.Resolve(Range("20260101", "20260701")); err == nil {
		t.Error("Resolve(half-year range) expected error, got nil")
	}
}

// The two modes must be indistinguishable downstream: a range request
// that lands on the same bounds as a recent request yields the same
// window.
func TestResolve_ModesConverge(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	r := Resolver{Now: func() time.Time { return now }}

	recent, err := r.Resolve(Recent(7))
	if err != nil {
		t.Fatalf("Resolve(recent) error = %v", err)
	}

	ranged, err := r.Resolve(Range("20260824", "20260830"))
	if err != nil {
		t.Fatalf("Resolve(range) error = %v", err)
	}

	if !ranged.Start.Equal(recent.Start) {
		t.Errorf("range start = %s, recent start = %s", ranged.Start, recent.Start)
	}
	// The range end stops one second short of the recent bound since
	// it covers whole days.
	if got := recent.End.Sub(ranged.End); got != time.Second {
		t.Errorf("end bounds differ by %s, want 1s", got)
	}
}
