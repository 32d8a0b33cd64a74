package timing

import (
	"testing"
	"time"
)

func TestNextBoundaryAlignsToGrid(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 37, 0, time.UTC)
	got := NextBoundary(now, 60*time.Second)
	want := time.Date(2026, 7, 31, 10, 1, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextBoundary = %v, want %v", got, want)
	}
}

func TestNextBoundaryOnExactGridAdvancesOnePeriod(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 1, 0, 0, time.UTC)
	got := NextBoundary(now, 60*time.Second)
	want := time.Date(2026, 7, 31, 10, 2, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextBoundary = %v, want %v", got, want)
	}
}

func TestNextPulseTimestampAdvancesByPeriod(t *testing.T) {
	prev := time.Unix(60, 0).UTC()
	got := NextPulseTimestamp(prev, 60*time.Second)
	want := time.Unix(120, 0).UTC()
	if !got.Equal(want) {
		t.Fatalf("NextPulseTimestamp = %v, want %v", got, want)
	}
}

func TestLeadDeadlineSubtractsMargin(t *testing.T) {
	boundary := time.Unix(120, 0).UTC()
	got := LeadDeadline(boundary, 10*time.Second)
	want := time.Unix(110, 0).UTC()
	if !got.Equal(want) {
		t.Fatalf("LeadDeadline = %v, want %v", got, want)
	}
}
