package binance

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side, used when placing protective orders.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the supported spot order types.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// OrderStatus is the exchange order lifecycle. Terminal states are absorbing.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Ticker holds 24h price statistics for a symbol.
type Ticker struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	Volume        float64
	Time          time.Time
}

// Kline represents a single candlestick.
type Kline struct {
	Symbol         string
	OpenTime       int64 // ms
	CloseTime      int64 // ms
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	NumberOfTrades int
}

// OrderBook is a depth snapshot. Levels are [price, qty] strings as sent
// by the exchange.
type OrderBook struct {
	Symbol       string
	Bids         [][2]string
	Asks         [][2]string
	LastUpdateID int64
	Time         time.Time
}

// Order is the parsed exchange view of an order.
type Order struct {
	Symbol           string
	OrderID          int64
	ClientOrderID    string
	Side             Side
	Type             OrderType
	Status           OrderStatus
	Quantity         float64
	Price            float64 // zero for unconstrained market fills
	HasPrice         bool
	ExecutedQuantity float64
	QuoteQuantity    float64 // cumulative quote spent
	CreatedAt        time.Time
}

// Balance is a single asset balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total is free plus locked.
func (b Balance) Total() float64 { return b.Free + b.Locked }

// AccountInfo holds balances and trading permissions.
type AccountInfo struct {
	CanTrade   bool         `json:"canTrade"`
	UpdateTime int64        `json:"updateTime"`
	Balances   []rawBalance `json:"balances"`
}

type rawBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}
