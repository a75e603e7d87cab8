package network

import "testing"

func TestLookupKnown(t *testing.T) {
	info := Lookup(IDPolygon)
	if info.DisplayName != "Polygon" || info.Symbol != "MATIC" {
		t.Fatalf("unexpected polygon info: %+v", info)
	}
	if !Supported(IDEthereum) {
		t.Fatalf("expected ethereum to be supported")
	}
	if DisplayName(IDArbitrum) != "Arbitrum" || Symbol(IDPolygonAmoy) != "POL" {
		t.Fatalf("unexpected display metadata: %s / %s", DisplayName(IDArbitrum), Symbol(IDPolygonAmoy))
	}
}

func TestLookupUnknownFallsBack(t *testing.T) {
	info := Lookup("eip155:999")
	if info.DisplayName != "eip155:999" || info.Symbol != "" {
		t.Fatalf("unexpected fallback info: %+v", info)
	}
	if Supported("eip155:999") {
		t.Fatalf("unknown network must not be supported")
	}
}
