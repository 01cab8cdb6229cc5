package symbols

import "strings"

// perpSuffixes are the venue-specific instrument suffixes, longest first so
// compound suffixes strip before their shorter tails.
var perpSuffixes = []string{
	"-USD-PERP",  // Extended
	"RUSDPERP",   // Reya
	"_USDT_PERP", // GRVT (case-insensitive match)
	"-PERP",      // Paradex, NADO
	"-USD",
}

// Normalize maps an exchange-specific instrument spelling to the canonical
// uppercase base-asset ticker.
// Examples:
//
//	BTC-USD-PERP -> BTC
//	BTC_USDT_Perp -> BTC
//	BTCRUSDPERP -> BTC
func Normalize(sym string) string {
	if sym == "" {
		return ""
	}
	upper := strings.ToUpper(sym)
	for _, suffix := range perpSuffixes {
		if strings.HasSuffix(upper, suffix) {
			upper = upper[:len(upper)-len(suffix)]
			break
		}
	}
	return upper
}
