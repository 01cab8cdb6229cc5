package reya

import (
	"encoding/json"
	"testing"

	"marketmux/models"
)

func TestDecodePrices(t *testing.T) {
	data := json.RawMessage(`[
		{"symbol":"BTCRUSDPERP","oraclePrice":"50000","poolPrice":"50001"},
		{"symbol":"ETHRUSDPERP","poolPrice":"3000"},
		{"symbol":"SOLRUSDPERP","oraclePrice":"0"},
		{"oraclePrice":"1"}
	]`)

	updates := decodePrices(data)
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].Symbol != "BTC" || updates[0].Price.String() != "50000" {
		t.Fatalf("oracle price not preferred: %+v", updates[0])
	}
	if updates[1].Symbol != "ETH" || updates[1].Price.String() != "3000" {
		t.Fatalf("pool price fallback missed: %+v", updates[1])
	}
	for _, u := range updates {
		if u.Kind != models.KindPrice || u.Exchange != models.ExchangeReya {
			t.Fatalf("unexpected update: %+v", u)
		}
	}
}

func TestDecodePricesSingleObject(t *testing.T) {
	data := json.RawMessage(`{"symbol":"BTCRUSDPERP","oraclePrice":"50000"}`)

	updates := decodePrices(data)
	if len(updates) != 1 || updates[0].Symbol != "BTC" {
		t.Fatalf("single-object form not accepted: %+v", updates)
	}
}

func TestDecodeSummaries(t *testing.T) {
	data := json.RawMessage(`[
		{"symbol":"BTCRUSDPERP","volume24h":"7500000"},
		{"symbol":"ETHRUSDPERP","volume24h":"0"}
	]`)

	updates := decodeSummaries(data)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Kind != models.KindVolume || !u.HasVolume {
		t.Fatalf("summary must be a volume-only update: %+v", u)
	}
	// volume24h is quoted in USD already, no conversion.
	if u.VolumeUSD.String() != "7500000" {
		t.Fatalf("volume = %s", u.VolumeUSD)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if updates := decodePrices(json.RawMessage(`"nope"`)); len(updates) != 0 {
		t.Fatalf("garbage produced updates: %+v", updates)
	}
	if updates := decodeSummaries(nil); len(updates) != 0 {
		t.Fatalf("empty payload produced updates: %+v", updates)
	}
}
