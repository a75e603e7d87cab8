// Package network maps chain identifiers to display metadata. Pure lookup,
// no business logic; the ledger never consults it for authorization.
package network

// Supported network identifiers in CAIP-2 form.
const (
	IDPolygonAmoy = "eip155:80002"
	IDPolygon     = "eip155:137"
	IDEthereum    = "eip155:1"
	IDArbitrum    = "eip155:42161"
)

// Info carries the display attributes of a network.
type Info struct {
	DisplayName string
	Symbol      string
}

var registry = map[string]Info{
	IDPolygonAmoy: {DisplayName: "Polygon Amoy Testnet", Symbol: "POL"},
	IDPolygon:     {DisplayName: "Polygon", Symbol: "MATIC"},
	IDEthereum:    {DisplayName: "Ethereum", Symbol: "ETH"},
	IDArbitrum:    {DisplayName: "Arbitrum", Symbol: "ETH"},
}

// Supported reports whether the identifier names a known network.
func Supported(id string) bool {
	_, ok := registry[id]
	return ok
}

// Lookup returns the display info for a network. Unknown identifiers fall
// back to the raw id with an empty currency symbol.
func Lookup(id string) Info {
	if info, ok := registry[id]; ok {
		return info
	}
	return Info{DisplayName: id}
}

// DisplayName returns the human-readable network name.
func DisplayName(id string) string { return Lookup(id).DisplayName }

// Symbol returns the native currency symbol for the network.
func Symbol(id string) string { return Lookup(id).Symbol }
