package models

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ProbeVolume scans a decoded venue object for a usable volume figure. The
// upstream schemas name their volume fields five different ways, so this is
// the one sanctioned place for field guessing: any key containing "vol" but
// not "change" is a candidate, 24h-flavoured keys win when prefer24h is set,
// and the first candidate that parses to a positive number is returned.
func ProbeVolume(source map[string]any, prefer24h bool) (decimal.Decimal, bool) {
	if len(source) == 0 {
		return decimal.Decimal{}, false
	}

	keys := make([]string, 0, len(source))
	for k, v := range source {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "vol") || strings.Contains(lk, "change") {
			continue
		}
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	// Map iteration order is random; keep probing deterministic.
	sort.Strings(keys)

	if prefer24h {
		sort.SliceStable(keys, func(i, j int) bool {
			return is24h(keys[i]) && !is24h(keys[j])
		})
	}

	for _, k := range keys {
		if d, ok := toDecimal(source[k]); ok && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func is24h(key string) bool {
	lk := strings.ToLower(key)
	return strings.Contains(lk, "24h") || strings.Contains(lk, "24_h")
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}
