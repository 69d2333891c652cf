package stream

// TickerEvent is a 24h rolling ticker update.
type TickerEvent struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	Volume        float64
	Time          int64
}

// KlineEvent is a candlestick update. IsFinal marks the bar as closed.
type KlineEvent struct {
	Symbol   string
	Interval string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	IsFinal  bool
}

// DepthEvent is an order book diff update.
type DepthEvent struct {
	Symbol string
	Bids   [][2]float64
	Asks   [][2]float64
	Time   int64
}

// TradeEvent is a single executed trade.
type TradeEvent struct {
	Symbol       string
	Price        float64
	Quantity     float64
	Time         int64
	IsBuyerMaker bool
}

// UserDataEvent carries a raw account stream payload; Type is the
// exchange event type, e.g. executionReport or outboundAccountPosition.
type UserDataEvent struct {
	Type string
	Raw  []byte
}

// UnknownEvent wraps a message that could not be decoded for its stream.
type UnknownEvent struct {
	Stream string
	Raw    []byte
}
