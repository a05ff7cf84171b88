// Package spin implements the daily prize wheel.
package spin

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

// resolution is the number of slots a probability of 1 is split into.
const resolution = 1_000_000

// Segment is one slice of the wheel.
type Segment struct {
	Prize       decimal.Decimal `json:"prize"`
	Probability decimal.Decimal `json:"probability"` // 0..1
}

// Config bounds the prizes a wheel may pay.
type Config struct {
	MinPrize decimal.Decimal
	MaxPrize decimal.Decimal
	DailyCap decimal.Decimal
	Segments []Segment
}

// DefaultConfig returns the standard wheel: prizes between $0.05 and $0.30.
func DefaultConfig() Config {
	seg := func(prize, p string) Segment {
		return Segment{Prize: decimal.RequireFromString(prize), Probability: decimal.RequireFromString(p)}
	}
	return Config{
		MinPrize: decimal.RequireFromString("0.05"),
		MaxPrize: decimal.RequireFromString("0.30"),
		DailyCap: decimal.RequireFromString("0.30"),
		Segments: []Segment{
			seg("0.05", "0.30"),
			seg("0.10", "0.25"),
			seg("0.15", "0.20"),
			seg("0.20", "0.13"),
			seg("0.25", "0.08"),
			seg("0.30", "0.04"),
		},
	}
}

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	Int63n(n int64) (int64, error)
}

// CryptoSource reads from crypto/rand.
type CryptoSource struct{}

// Int63n implements Source.
func (CryptoSource) Int63n(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// Wheel draws prizes from a validated segment table.
type Wheel struct {
	cfg    Config
	bounds []int64 // cumulative upper bound of each segment in resolution units
	src    Source
}

// NewWheel validates cfg. A nil src means crypto/rand.
func NewWheel(cfg Config, src Source) (*Wheel, error) {
	if src == nil {
		src = CryptoSource{}
	}
	if len(cfg.Segments) == 0 {
		return nil, fmt.Errorf("%w: wheel has no segments", model.ErrConfiguration)
	}
	if cfg.MinPrize.IsNegative() || cfg.MaxPrize.LessThan(cfg.MinPrize) {
		return nil, fmt.Errorf("%w: prize range [%s, %s] is invalid", model.ErrConfiguration, cfg.MinPrize, cfg.MaxPrize)
	}
	if cfg.MaxPrize.GreaterThan(cfg.DailyCap) {
		return nil, fmt.Errorf("%w: max prize %s exceeds daily cap %s", model.ErrConfiguration, cfg.MaxPrize, cfg.DailyCap)
	}

	res := decimal.NewFromInt(resolution)
	total := decimal.Zero
	bounds := make([]int64, 0, len(cfg.Segments))
	var acc int64
	for i, s := range cfg.Segments {
		if s.Prize.LessThan(cfg.MinPrize) || s.Prize.GreaterThan(cfg.MaxPrize) {
			return nil, fmt.Errorf("%w: segment %d prize %s outside [%s, %s]", model.ErrConfiguration, i, s.Prize, cfg.MinPrize, cfg.MaxPrize)
		}
		if !model.HasMoneyPrecision(s.Prize) {
			return nil, fmt.Errorf("%w: segment %d prize %s has too many places", model.ErrConfiguration, i, s.Prize)
		}
		if !s.Probability.IsPositive() {
			return nil, fmt.Errorf("%w: segment %d probability must be positive", model.ErrConfiguration, i)
		}
		slots := s.Probability.Mul(res)
		if !slots.Equal(slots.Truncate(0)) {
			return nil, fmt.Errorf("%w: segment %d probability %s is finer than 1e-6", model.ErrConfiguration, i, s.Probability)
		}
		acc += slots.IntPart()
		bounds = append(bounds, acc)
		total = total.Add(s.Probability)
	}
	if !total.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: segment probabilities sum to %s", model.ErrConfiguration, total)
	}

	return &Wheel{cfg: cfg, bounds: bounds, src: src}, nil
}

// DailyCap is the most a user may win from the wheel on one local day.
func (w *Wheel) DailyCap() decimal.Decimal {
	return w.cfg.DailyCap
}

// Segments returns a copy of the wheel table.
func (w *Wheel) Segments() []Segment {
	out := make([]Segment, len(w.cfg.Segments))
	copy(out, w.cfg.Segments)
	return out
}

// Draw picks a segment.
func (w *Wheel) Draw() (decimal.Decimal, error) {
	n, err := w.src.Int63n(resolution)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to draw: %w", err)
	}
	for i, b := range w.bounds {
		if n < b {
			return w.cfg.Segments[i].Prize, nil
		}
	}
	return w.cfg.Segments[len(w.cfg.Segments)-1].Prize, nil
}
