package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "10.00", want: 1000},
		{in: "0.1", want: 10},
		{in: " 5 ", want: 500},
		{in: "0", want: 0},
		{in: "19.99", want: 1999},
		{in: "1.005", wantErr: true},
		{in: "-1.00", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMinor(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				if KindOf(err) != KindInvalidInput {
					t.Fatalf("expected invalid input, got %q", KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseMinor(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMinorFromDecimal(t *testing.T) {
	got, err := MinorFromDecimal(decimal.RequireFromString("0.30"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
}

func TestFormatMinor(t *testing.T) {
	cases := map[int64]string{0: "0.00", 5: "0.05", 1000: "10.00", 2599: "25.99"}
	for in, want := range cases {
		if got := FormatMinor(in); got != want {
			t.Errorf("FormatMinor(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestLineTotalAndAdd(t *testing.T) {
	// 0.1 * 3 в float64 даёт 0.30000000000000004, в минимальных единицах ровно 30.
	line, err := LineTotal(10, 3)
	if err != nil || line != 30 {
		t.Fatalf("LineTotal(10, 3) = %d, %v", line, err)
	}

	if _, err := LineTotal(100, 0); !errors.Is(err, ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if _, err := LineTotal(math.MaxInt64, 2); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if _, err := AddMinor(math.MaxInt64, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}
