package extended

import (
	"testing"

	"marketmux/models"
)

func TestDecodePriceLineVolumeOnly(t *testing.T) {
	line := []byte(`{"type":"MP","data":{"m":"BTC-USD-PERP","p":"50000","volume_24h":"120.5"}}`)

	u, ok := decodePriceLine(line)
	if !ok {
		t.Fatalf("valid MP frame not decoded")
	}
	if u.Kind != models.KindVolume {
		t.Fatalf("price feed must emit volume-only updates, got %+v", u)
	}
	if u.Symbol != "BTC" {
		t.Fatalf("suffix not stripped: %q", u.Symbol)
	}
	if u.VolumeUSD.String() != "6025000" {
		t.Fatalf("token volume not converted at mark price: %s", u.VolumeUSD)
	}
}

func TestDecodePriceLineWithoutVolume(t *testing.T) {
	line := []byte(`{"type":"P","data":{"m":"ETH-USD-PERP","p":"3000"}}`)
	if _, ok := decodePriceLine(line); ok {
		t.Fatalf("frame without volume produced an update")
	}
}

func TestDecodePriceLineIgnoresOtherTypes(t *testing.T) {
	line := []byte(`{"type":"TRADE","data":{"m":"ETH-USD-PERP","p":"3000","volume":"5"}}`)
	if _, ok := decodePriceLine(line); ok {
		t.Fatalf("non-price frame produced an update")
	}
}

func TestDecodeBookSnapshot(t *testing.T) {
	data := []byte(`{"type":"SNAPSHOT","data":{"m":"BTC-USD-PERP","b":[{"p":"49990","q":"2"}],"a":[{"p":"50010","q":"3"}]}}`)

	u, ok := decodeBook(data)
	if !ok {
		t.Fatalf("valid snapshot not decoded")
	}
	if !u.TopOnly || u.Kind != models.KindBook {
		t.Fatalf("depth-1 snapshot must be top-only: %+v", u)
	}
	if u.Price.String() != "50000" {
		t.Fatalf("mid-price = %s, want 50000", u.Price)
	}
	if u.Bids[0].Price.String() != "49990" || u.Asks[0].Price.String() != "50010" {
		t.Fatalf("best levels misparsed: %+v", u)
	}
	if u.Bids[0].Size.String() != "2" || u.Asks[0].Size.String() != "3" {
		t.Fatalf("sizes misparsed: %+v", u)
	}
}

func TestDecodeBookOneSided(t *testing.T) {
	data := []byte(`{"data":{"market":"SOL-USD-PERP","bids":[{"price":"100","size":"1"}]}}`)

	u, ok := decodeBook(data)
	if !ok {
		t.Fatalf("one-sided book dropped")
	}
	if len(u.Asks) != 0 || len(u.Bids) != 1 {
		t.Fatalf("unexpected sides: %+v", u)
	}
	if u.Price.Sign() != 0 {
		t.Fatalf("mid-price derived from one side: %s", u.Price)
	}
}

func TestDecodeBookEmpty(t *testing.T) {
	data := []byte(`{"data":{"m":"BTC-USD-PERP","b":[],"a":[]}}`)
	if _, ok := decodeBook(data); ok {
		t.Fatalf("empty book produced an update")
	}
}
