package series

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalize_TooFewPoints(t *testing.T) {
	ladder := DefaultChargeLadder()

	tests := []struct {
		name     string
		readings []Point
	}{
		{name: "nil", readings: nil},
		{name: "single", readings: []Point{{Ts: 10, Pt: 5}}},
		{name: "duplicates collapse to one", readings: []Point{{Ts: 10, Pt: 5}, {Ts: 10, Pt: 4}}},
		{name: "non-finite dropped", readings: []Point{{Ts: 10, Pt: 5}, {Ts: 20, Pt: math.NaN()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.readings, ladder); len(got) != 0 {
				t.Fatalf("Normalize() = %#v, want empty", got)
			}
		})
	}
}

func TestNormalize_SortsAndKeepsLastDuplicate(t *testing.T) {
	readings := []Point{
		{Ts: 300, Pt: 7},
		{Ts: 100, Pt: 9},
		{Ts: 200, Pt: 8.5},
		{Ts: 100, Pt: 9.2},
		{Ts: 200, Pt: 8},
	}

	got := Normalize(readings, DefaultChargeLadder())
	want := []Point{{Ts: 100, Pt: 9.2}, {Ts: 200, Pt: 8}, {Ts: 300, Pt: 7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize() = %#v, want %#v", got, want)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	readings := []Point{{Ts: 2, Pt: 1}, {Ts: 1, Pt: 2}}
	_ = Normalize(readings, DefaultChargeLadder())

	if readings[0].Ts != 2 || readings[1].Ts != 1 {
		t.Fatalf("input reordered: %#v", readings)
	}
}

func TestNormalize_SubtractsRecharges(t *testing.T) {
	readings := []Point{
		{Ts: 0, Pt: 20},
		{Ts: 600, Pt: 19},
		{Ts: 1200, Pt: 68},   // +49 -> 50 charge
		{Ts: 1800, Pt: 67},
		{Ts: 2400, Pt: 66.5}, // consumption
		{Ts: 3000, Pt: 76},   // +9.5 is noise, kept
		{Ts: 3600, Pt: 375},  // +299 passes through
	}

	got := Normalize(readings, DefaultChargeLadder())
	want := []Point{
		{Ts: 0, Pt: 20},
		{Ts: 600, Pt: 19},
		{Ts: 1200, Pt: 18},
		{Ts: 1800, Pt: 17},
		{Ts: 2400, Pt: 16.5},
		{Ts: 3000, Pt: 26},
		{Ts: 3600, Pt: 26},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize() = %#v, want %#v", got, want)
	}
}

func TestNormalize_StrictlyIncreasingTimestamps(t *testing.T) {
	readings := []Point{
		{Ts: 50, Pt: 3}, {Ts: 10, Pt: 5}, {Ts: 30, Pt: 4}, {Ts: 30, Pt: 4.1},
		{Ts: 20, Pt: 4.5}, {Ts: 50, Pt: 2.9}, {Ts: 40, Pt: 3.5}, {Ts: 10, Pt: 5.1},
	}

	got := Normalize(readings, DefaultChargeLadder())
	if len(got) != 5 {
		t.Fatalf("Normalize() len = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Ts <= got[i-1].Ts {
			t.Fatalf("ts not strictly increasing at %d: %#v", i, got)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	readings := []Point{
		{Ts: 0, Pt: 100}, {Ts: 900, Pt: 99}, {Ts: 1800, Pt: 148.5},
		{Ts: 2700, Pt: 147}, {Ts: 3600, Pt: 150}, {Ts: 4500, Pt: 146},
	}

	once := Normalize(readings, DefaultChargeLadder())
	twice := Normalize(once, DefaultChargeLadder())
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Normalize(Normalize()) = %#v, want %#v", twice, once)
	}
}
