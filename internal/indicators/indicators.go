package indicators

import (
	"errors"
	"fmt"
	"math"
)

// ErrInsufficientData is returned when fewer values are supplied than
// the indicator's period requires.
var ErrInsufficientData = errors.New("insufficient data for indicator")

// SMA calculates the simple moving average over the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid period %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("%w: need %d values, have %d", ErrInsufficientData, period, len(values))
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// EMA calculates the exponential moving average, seeded with the oldest
// value and smoothed with k = 2/(period+1).
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid period %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("%w: need %d values, have %d", ErrInsufficientData, period, len(values))
	}
	k := 2.0 / float64(period+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema, nil
}

// RSI computes the Relative Strength Index from average gain and loss
// over the last period changes. All-gain windows return 100.
func RSI(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid period %d", period)
	}
	if len(values) < period+1 {
		return 0, fmt.Errorf("%w: need %d values, have %d", ErrInsufficientData, period+1, len(values))
	}
	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100, nil
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - (100 / (1 + rs)), nil
}

// Bands holds one Bollinger band sample.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes bands at stdDevs population standard deviations
// around the period SMA.
func Bollinger(values []float64, period int, stdDevs float64) (Bands, error) {
	mid, err := SMA(values, period)
	if err != nil {
		return Bands{}, err
	}
	variance := 0.0
	for i := len(values) - period; i < len(values); i++ {
		d := values[i] - mid
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))
	return Bands{
		Upper:  mid + stdDevs*sigma,
		Middle: mid,
		Lower:  mid - stdDevs*sigma,
	}, nil
}
