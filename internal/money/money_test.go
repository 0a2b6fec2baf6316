package money

import "testing"

func TestNormalizeReferenceVectors(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		precision int
		mode      Mode
		want      int64
		wantErr   error
	}{
		{"exact-two-decimals", "1.00", 2, ModeStrict, 100, nil},
		{"strict-rejects-extra-precision", "1.005", 2, ModeStrict, 0, ErrPrecisionExceeded},
		{"round-half-up", "1.005", 2, ModeRound, 101, nil},
		{"truncate-drops-extra", "1.005", 2, ModeTruncate, 100, nil},
		{"round-half-away-from-zero-negative", "-1.005", 2, ModeRound, -101, nil},
		{"no-fraction-needed", "4.99", 2, ModeStrict, 499, nil},
		{"eight-precision", "0.00000001", 8, ModeStrict, 1, nil},
		{"boundary-at-safe-max", "90071992547409.91", 2, ModeStrict, SafeIntegerMax, nil},
		{"one-cent-over-safe-max", "90071992547409.92", 2, ModeStrict, 0, ErrOverflow},
		{"plain-integer", "150000", 0, ModeStrict, 150000, nil},
		{"leading-plus", "+1.50", 2, ModeStrict, 150, nil},
		{"garbage-input", "abc", 2, ModeStrict, 0, ErrInvalidNumeric},
		{"empty-input", "", 2, ModeStrict, 0, ErrInvalidNumeric},
		{"double-dot", "1.2.3", 2, ModeStrict, 0, ErrInvalidNumeric},
		{"whitespace-trimmed", "  1.00  ", 2, ModeStrict, 100, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.input, tc.precision, tc.mode)
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("Normalize(%q, %d, %s) error = %v, want %v", tc.input, tc.precision, tc.mode, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q, %d, %s) unexpected error: %v", tc.input, tc.precision, tc.mode, err)
			}
			if got != tc.want {
				t.Fatalf("Normalize(%q, %d, %s) = %d, want %d", tc.input, tc.precision, tc.mode, got, tc.want)
			}
		})
	}
}

func TestNormalizeRoundTripWithinTwoDecimals(t *testing.T) {
	cases := map[string]int64{
		"1.00":   100,
		"0.01":   1,
		"999.99": 99999,
		"0.00":   0,
		"123.45": 12345,
	}
	for s, want := range cases {
		got, err := Normalize(s, 2, ModeStrict)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %d, want %d", s, got, want)
		}
	}
}

func TestDeterminismAcrossRepeatedCalls(t *testing.T) {
	for i := 0; i < 5; i++ {
		got, err := Normalize("1500.00", 2, ModeStrict)
		if err != nil || got != 150000 {
			t.Fatalf("iteration %d: got %d, err %v", i, got, err)
		}
	}
}
