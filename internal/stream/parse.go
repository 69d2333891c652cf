package stream

import (
	"encoding/json"
	"errors"
	"strconv"
)

// errUnrecognizedShape flags valid JSON that lacks the stream's
// identifying fields; the caller routes it to the unknown namespace.
var errUnrecognizedShape = errors.New("stream: payload shape not recognized")

func parseTicker(msg []byte) (any, error) {
	var raw struct {
		Symbol        string `json:"s"`
		Last          any    `json:"c"`
		ChangePercent any    `json:"P"`
		Volume        any    `json:"v"`
		CloseTime     int64  `json:"C"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Symbol == "" {
		return nil, errUnrecognizedShape
	}
	return TickerEvent{
		Symbol:        raw.Symbol,
		Price:         toFloat(raw.Last),
		ChangePercent: toFloat(raw.ChangePercent),
		Volume:        toFloat(raw.Volume),
		Time:          raw.CloseTime,
	}, nil
}

func parseKline(msg []byte) (any, error) {
	var raw struct {
		Data struct {
			StartTime int64  `json:"t"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      any    `json:"o"`
			Close     any    `json:"c"`
			High      any    `json:"h"`
			Low       any    `json:"l"`
			Volume    any    `json:"v"`
			IsFinal   bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Data.Symbol == "" || raw.Data.Interval == "" {
		return nil, errUnrecognizedShape
	}
	return KlineEvent{
		Symbol:   raw.Data.Symbol,
		Interval: raw.Data.Interval,
		OpenTime: raw.Data.StartTime,
		Open:     toFloat(raw.Data.Open),
		High:     toFloat(raw.Data.High),
		Low:      toFloat(raw.Data.Low),
		Close:    toFloat(raw.Data.Close),
		Volume:   toFloat(raw.Data.Volume),
		IsFinal:  raw.Data.IsFinal,
	}, nil
}

func parseDepth(msg []byte) (any, error) {
	var raw struct {
		Symbol string  `json:"s"`
		Time   any     `json:"E"`
		Bids   [][]any `json:"b"`
		Asks   [][]any `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Symbol == "" {
		return nil, errUnrecognizedShape
	}
	return DepthEvent{
		Symbol: raw.Symbol,
		Bids:   toLevels(raw.Bids),
		Asks:   toLevels(raw.Asks),
		Time:   toInt64(raw.Time),
	}, nil
}

func parseTrade(msg []byte) (any, error) {
	var raw struct {
		Symbol    string `json:"s"`
		Price     any    `json:"p"`
		Qty       any    `json:"q"`
		TradeTime any    `json:"T"`
		BuyerIsMM bool   `json:"m"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Symbol == "" {
		return nil, errUnrecognizedShape
	}
	return TradeEvent{
		Symbol:       raw.Symbol,
		Price:        toFloat(raw.Price),
		Quantity:     toFloat(raw.Qty),
		Time:         toInt64(raw.TradeTime),
		IsBuyerMaker: raw.BuyerIsMM,
	}, nil
}

func parseUserData(msg []byte) (any, error) {
	var raw struct {
		Type string `json:"e"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "" {
		return nil, errUnrecognizedShape
	}
	return UserDataEvent{Type: raw.Type, Raw: msg}, nil
}

func toLevels(raw [][]any) [][2]float64 {
	var levels [][2]float64
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		levels = append(levels, [2]float64{toFloat(l[0]), toFloat(l[1])})
	}
	return levels
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
