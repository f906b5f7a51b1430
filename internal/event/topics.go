package event

import "strings"

// Topic and entity-id formats are interop contracts: other services key
// their subscriptions and persistence ids off these exact strings.

const (
	orderBookSuffix = "-orderBook"
	pricingSuffix   = "-prices"
)

// PriceUpdateTopic is the pub/sub topic carrying PriceChanged updates.
func PriceUpdateTopic(tickerSymbol string) string {
	return tickerSymbol + "-price"
}

// VolumeUpdateTopic is the pub/sub topic carrying VolumeChanged updates.
func VolumeUpdateTopic(tickerSymbol string) string {
	return tickerSymbol + "-update"
}

// TradeTopic names the generic trade event topic: "{symbol}-{EventTypeName}".
func TradeTopic(tickerSymbol string, t TradeEventType) string {
	return tickerSymbol + "-" + t.String()
}

// IDForOrderBook names the persistent order book entity for a symbol.
func IDForOrderBook(tickerSymbol string) string {
	return tickerSymbol + orderBookSuffix
}

// IDForPricing names the persistent match aggregator entity for a symbol.
func IDForPricing(tickerSymbol string) string {
	return tickerSymbol + pricingSuffix
}

// TickerFromEntityID recovers the ticker symbol from a persistence id.
func TickerFromEntityID(persistenceID string) string {
	if i := strings.Index(persistenceID, "-"); i >= 0 {
		return persistenceID[:i]
	}
	return persistenceID
}
