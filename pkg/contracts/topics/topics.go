package topics

const (
	// Ordens
	OrderMatched = "order_matched"

	// Usuários
	UserUpdated = "user_updated"

	// Mercados
	MarketClosed  = "market_closed"
	MarketSettled = "market_settled"

	// DLQs
	MarketClosedDLQ = "market_closed_dlq"
)
