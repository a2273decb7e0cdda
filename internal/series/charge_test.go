package series

import "testing"

func TestDefaultChargeLadder_Classify(t *testing.T) {
	ladder := DefaultChargeLadder()

	tests := []struct {
		delta float64
		want  float64
	}{
		{delta: -3, want: 0},
		{delta: 0, want: 0},
		{delta: 10, want: 0},
		{delta: 12.5, want: 0},
		{delta: 12.6, want: 25},
		{delta: 37.5, want: 25},
		{delta: 40, want: 50},
		{delta: 62.5, want: 50},
		{delta: 70, want: 75},
		{delta: 87.5, want: 75},
		{delta: 99.5, want: 100},
		{delta: 125, want: 100},
		{delta: 160, want: 150},
		{delta: 175, want: 150},
		{delta: 180, want: 200},
		{delta: 225, want: 200},
		{delta: 225.5, want: 225.5},
		{delta: 300, want: 300},
	}

	for _, tt := range tests {
		if got := ladder.Classify(tt.delta); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.delta, got, tt.want)
		}
	}
}

func TestNewChargeLadder_OrdersStepsHighestFirst(t *testing.T) {
	ladder := NewChargeLadder(100, []ChargeStep{
		{Above: 5, Amount: 10},
		{Above: 45, Amount: 50},
		{Above: 20, Amount: 30},
	})

	if got := ladder.Classify(50); got != 50 {
		t.Fatalf("Classify(50) = %v, want 50", got)
	}
	if got := ladder.Classify(25); got != 30 {
		t.Fatalf("Classify(25) = %v, want 30", got)
	}
	if got := ladder.Classify(6); got != 10 {
		t.Fatalf("Classify(6) = %v, want 10", got)
	}
	if got := ladder.Classify(101); got != 101 {
		t.Fatalf("Classify(101) = %v, want pass-through 101", got)
	}
}

func TestNewChargeLadder_DoesNotAliasInput(t *testing.T) {
	steps := []ChargeStep{{Above: 1, Amount: 2}, {Above: 3, Amount: 4}}
	_ = NewChargeLadder(10, steps)

	if steps[0].Above != 1 || steps[1].Above != 3 {
		t.Fatalf("input steps reordered: %#v", steps)
	}
}

func TestChargeLadder_IsZero(t *testing.T) {
	if !(ChargeLadder{}).IsZero() {
		t.Fatal("zero ChargeLadder IsZero() = false, want true")
	}
	if DefaultChargeLadder().IsZero() {
		t.Fatal("DefaultChargeLadder().IsZero() = true, want false")
	}
}
