package symbols

import "strings"

// Channel kinds the market stream publishes per symbol.
const (
	KindTrade = "trade"
	KindDepth = "depth"
)

// Normalize converts common spellings of a market to the stream's
// BASE_QUOTE form: uppercase with an underscore separator.
// Examples:
//
//	btc-usdc  -> BTC_USDC
//	BTC/USDC  -> BTC_USDC
//	XBT_USDC  -> BTC_USDC
//
// Symbols without a separator are returned uppercased.
func Normalize(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	sym = strings.NewReplacer("-", "_", "/", "_", ":", "_").Replace(sym)
	if strings.HasPrefix(sym, "XBT_") {
		sym = "BTC" + sym[3:]
	}
	return sym
}

// Channel returns the stream name for kind on sym, e.g. trade.BTC_USDC.
func Channel(kind, sym string) string {
	return kind + "." + sym
}

// KindOf returns the channel kind of a stream name: KindTrade, KindDepth
// (orderbook is an alias), or "other" for anything else the upstream sends.
func KindOf(stream string) string {
	kind, _, _ := strings.Cut(stream, ".")
	switch kind {
	case KindTrade, KindDepth:
		return kind
	case "orderbook":
		return KindDepth
	}
	return "other"
}

// FromChannel returns the symbol part of a stream name: the second
// dot-separated segment, or "" when there is none.
func FromChannel(stream string) string {
	parts := strings.Split(stream, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
