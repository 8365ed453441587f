package types

// Event is the generic attribute-bag representation of a ledger event, used by
// transports that cannot depend on the typed event structs.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
