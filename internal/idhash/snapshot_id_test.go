package idhash

import (
	"testing"
	"time"

	"trade-metrics-lab/internal/domain"
)

func TestComputeSnapshotID(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		key     domain.SnapshotKey
		wantLen int
	}{
		{
			name:    "global daily",
			key:     domain.SnapshotKey{PeriodType: domain.PeriodDaily, PeriodStart: start},
			wantLen: 64,
		},
		{
			name: "strategy regime weekly",
			key: domain.SnapshotKey{
				Dimension:   domain.Dimension{StrategyID: "momentum", Regime: "trending"},
				PeriodType:  domain.PeriodWeekly,
				PeriodStart: start,
			},
			wantLen: 64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSnapshotID(tt.key)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeSnapshotID() length = %d, want %d", len(got), tt.wantLen)
			}

			got2 := ComputeSnapshotID(tt.key)
			if got != got2 {
				t.Errorf("ComputeSnapshotID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeSnapshotID_DifferentKeys(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	base := domain.SnapshotKey{
		Dimension:   domain.Dimension{StrategyID: "momentum"},
		PeriodType:  domain.PeriodDaily,
		PeriodStart: start,
	}

	variants := []domain.SnapshotKey{
		{Dimension: domain.Dimension{StrategyID: "meanrev"}, PeriodType: domain.PeriodDaily, PeriodStart: start},
		{Dimension: domain.Dimension{ModelID: "momentum"}, PeriodType: domain.PeriodDaily, PeriodStart: start},
		{Dimension: base.Dimension, PeriodType: domain.PeriodWeekly, PeriodStart: start},
		{Dimension: base.Dimension, PeriodType: domain.PeriodDaily, PeriodStart: start.Add(24 * time.Hour)},
	}

	baseID := ComputeSnapshotID(base)
	for i, k := range variants {
		if got := ComputeSnapshotID(k); got == baseID {
			t.Errorf("variant %d: expected different id, got same %s", i, got)
		}
	}
}

func TestComputeSnapshotID_TimezoneIndependent(t *testing.T) {
	utc := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("EST", -5*3600))

	a := ComputeSnapshotID(domain.SnapshotKey{PeriodType: domain.PeriodDaily, PeriodStart: utc})
	b := ComputeSnapshotID(domain.SnapshotKey{PeriodType: domain.PeriodDaily, PeriodStart: local})
	if a != b {
		t.Errorf("expected same id for same instant, got %s and %s", a, b)
	}
}

func TestComputeVariantSnapshotID(t *testing.T) {
	a := ComputeVariantSnapshotID("exp-1", "control")
	b := ComputeVariantSnapshotID("exp-1", "treatment")
	if a == b {
		t.Error("expected different ids for different variants")
	}
	if len(a) != 64 {
		t.Errorf("expected length 64, got %d", len(a))
	}
}
