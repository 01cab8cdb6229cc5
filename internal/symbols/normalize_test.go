package symbols

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTC-USD-PERP", "BTC"},
		{"BTC_USDT_Perp", "BTC"},
		{"BTCRUSDPERP", "BTC"},
		{"ETH-PERP", "ETH"},
		{"SOL-USD", "SOL"},
		{"1000PEPE", "1000PEPE"},
		{"doge-usd-perp", "DOGE"},
		{"BTC", "BTC"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"BTC-USD-PERP", "BTC_USDT_Perp", "BTCRUSDPERP", "ETH-PERP", "SUI-USD", "HYPE"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
