package models

import (
	"testing"
	"time"
)

func TestMergeAliases(t *testing.T) {
	tag := &Tag{Name: "Bitcoin"}

	if changed := tag.MergeAliases(nil); changed {
		t.Error("empty input must not report a change")
	}
	if changed := tag.MergeAliases([]string{"BTC", "XBT"}); !changed {
		t.Error("expected change for fresh aliases")
	}
	got := tag.AliasList()
	if len(got) != 2 || got[0] != "BTC" || got[1] != "XBT" {
		t.Errorf("expected [BTC XBT], got %v", got)
	}

	// bereits bekannte und leere Einträge ändern nichts
	if changed := tag.MergeAliases([]string{"BTC", ""}); changed {
		t.Error("known alias must not report a change")
	}

	// Aliase wachsen monoton, nichts fällt weg
	if changed := tag.MergeAliases([]string{"Bitcoin Core"}); !changed {
		t.Error("expected change for additional alias")
	}
	got = tag.AliasList()
	if len(got) != 3 || got[2] != "Bitcoin Core" {
		t.Errorf("expected appended alias, got %v", got)
	}
}

func TestAliasListEmpty(t *testing.T) {
	tag := &Tag{}
	if got := tag.AliasList(); got != nil {
		t.Errorf("expected nil for missing aliases, got %v", got)
	}
}

func TestPeriodTypeDuration(t *testing.T) {
	cases := []struct {
		period PeriodType
		want   time.Duration
		ok     bool
	}{
		{Period1h, time.Hour, true},
		{Period24h, 24 * time.Hour, true},
		{Period7d, 7 * 24 * time.Hour, true},
		{PeriodType("2d"), 0, false},
		{PeriodType(""), 0, false},
	}
	for _, tc := range cases {
		got, ok := tc.period.Duration()
		if got != tc.want || ok != tc.ok {
			t.Errorf("Duration(%q) = (%v, %v), want (%v, %v)", tc.period, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAlertMetricsRoundTrip(t *testing.T) {
	alert := &TrendAlert{}

	empty, err := alert.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics on empty alert: %v", err)
	}
	if empty != (AlertMetrics{}) {
		t.Errorf("expected zero metrics, got %+v", empty)
	}

	want := AlertMetrics{PreviousValue: 2, CurrentValue: 9, ChangePercent: 350, Threshold: 3}
	if err := alert.SetMetrics(want); err != nil {
		t.Fatalf("SetMetrics: %v", err)
	}
	got, err := alert.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
