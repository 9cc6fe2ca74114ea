package model

import (
	"testing"
	"time"
)

func testObligation() Obligation {
	return Obligation{
		ID:            "obl-1",
		PatternID:     "pat-1",
		Status:        ObligationExpected,
		ExpectedDate:  time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
		ToleranceDays: 3,
		CreatedAt:     time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestObligation_MatchesDate(t *testing.T) {
	tests := []struct {
		eventDate time.Time
		name      string
		tolerance int
		want      bool
	}{
		{
			name:      "exactly on the expected date",
			tolerance: 3,
			eventDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
			want:      true,
		},
		{
			name:      "on the early edge",
			tolerance: 3,
			eventDate: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			want:      true,
		},
		{
			name:      "on the late edge",
			tolerance: 3,
			eventDate: time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC),
			want:      true,
		},
		{
			name:      "one day before the window",
			tolerance: 3,
			eventDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			want:      false,
		},
		{
			name:      "one day after the window",
			tolerance: 3,
			eventDate: time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC),
			want:      false,
		},
		{
			name:      "zero tolerance only matches the exact day",
			tolerance: 0,
			eventDate: time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testObligation()
			o.ToleranceDays = tt.tolerance
			if got := o.MatchesDate(tt.eventDate); got != tt.want {
				t.Errorf("MatchesDate(%v) = %v, want %v", tt.eventDate, got, tt.want)
			}
		})
	}
}

func TestObligation_DaysEarlyFor(t *testing.T) {
	o := testObligation()

	early := o.DaysEarlyFor(time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))
	if early != 2 {
		t.Errorf("DaysEarlyFor(two days early) = %d, want 2", early)
	}

	late := o.DaysEarlyFor(time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC))
	if late != -2 {
		t.Errorf("DaysEarlyFor(two days late) = %d, want -2", late)
	}
}

func TestObligation_OverdueAt(t *testing.T) {
	o := testObligation() // expected 2025-02-05, tolerance 3

	lastDay := time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC)
	if o.OverdueAt(lastDay) {
		t.Error("OverdueAt(last day of window) = true, want false")
	}

	dayAfter := time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC)
	if !o.OverdueAt(dayAfter) {
		t.Error("OverdueAt(day after window) = false, want true")
	}
}

func TestObligation_Validate(t *testing.T) {
	resolvedAt := time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)
	eventID := "evt-9"

	tests := []struct {
		mutate  func(*Obligation)
		name    string
		wantErr bool
	}{
		{
			name:    "valid open obligation",
			mutate:  func(*Obligation) {},
			wantErr: false,
		},
		{
			name: "valid fulfilled obligation",
			mutate: func(o *Obligation) {
				o.Status = ObligationFulfilled
				o.ResolvedAt = &resolvedAt
				o.FulfilledBy = &eventID
			},
			wantErr: false,
		},
		{
			name: "valid missed obligation",
			mutate: func(o *Obligation) {
				o.Status = ObligationMissed
				o.ResolvedAt = &resolvedAt
			},
			wantErr: false,
		},
		{
			name:    "missing id",
			mutate:  func(o *Obligation) { o.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing pattern id",
			mutate:  func(o *Obligation) { o.PatternID = "" },
			wantErr: true,
		},
		{
			name:    "unknown status",
			mutate:  func(o *Obligation) { o.Status = "PENDING" },
			wantErr: true,
		},
		{
			name:    "negative tolerance",
			mutate:  func(o *Obligation) { o.ToleranceDays = -1 },
			wantErr: true,
		},
		{
			name:    "open obligation with a resolution time",
			mutate:  func(o *Obligation) { o.ResolvedAt = &resolvedAt },
			wantErr: true,
		},
		{
			name:    "resolved obligation without a resolution time",
			mutate:  func(o *Obligation) { o.Status = ObligationMissed },
			wantErr: true,
		},
		{
			name: "fulfilled obligation without an event",
			mutate: func(o *Obligation) {
				o.Status = ObligationFulfilled
				o.ResolvedAt = &resolvedAt
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testObligation()
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
