package utils

import (
	"reflect"
	"testing"
	"time"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Error de VPN: ¡no puedo iniciar sesión! (login_fail #42)")
	want := []string{"error", "de", "vpn", "no", "puedo", "iniciar", "sesión", "login_fail", "42"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize() = %v, want %v", got, want)
	}

	if got := Tokenize("  ...  "); got != nil {
		t.Errorf("Tokenize(punctuation) = %v, want nil", got)
	}
}

func TestCompactSpaces(t *testing.T) {
	if got := CompactSpaces(" a \t b\n\nc "); got != "a b c" {
		t.Errorf("CompactSpaces() = %q", got)
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" vpn, ,acceso ,")
	want := []string{"vpn", "acceso"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitCSV() = %v, want %v", got, want)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in     float64
		places int
		want   float64
	}{
		{0.346, 2, 0.35},
		{0.3449, 2, 0.34},
		{1.0, 2, 1.0},
		{0.7, 2, 0.7},
	}
	for _, tt := range tests {
		if got := Round(tt.in, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(-0.2) != 0 || Clamp01(1.7) != 1 || Clamp01(0.4) != 0.4 {
		t.Error("Clamp01 returned unexpected values")
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	if got := FormatTime(ts); got != "2024-01-15 14:30:45" {
		t.Errorf("FormatTime() = %q", got)
	}
}

func TestUniqueUints(t *testing.T) {
	got := UniqueUints([]uint{3, 1, 3, 2, 1})
	want := []uint{3, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UniqueUints() = %v, want %v", got, want)
	}
}
