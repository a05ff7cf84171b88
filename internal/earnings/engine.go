// Package earnings computes monetary entitlements from level plans.
// Every function here is pure; nothing touches a wallet.
package earnings

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

// Rule engine errors.
var (
	ErrInvalidLevelChange = errors.New("level change must move up at least one level")
	ErrBalanceCapExceeded = errors.New("deposit would exceed level balance cap")
)

var hundred = decimal.NewFromInt(100)

// LevelPlan describes one membership level.
// A nil MaxBalanceCap means the level is unbounded.
type LevelPlan struct {
	Level               int
	UpgradeFee          decimal.Decimal
	MaxBalanceCap       *decimal.Decimal
	RevenueSharePercent decimal.Decimal
}

// DefaultLevelPlans returns the published level table.
func DefaultLevelPlans() []LevelPlan {
	capOf := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}
	return []LevelPlan{
		{Level: 0, UpgradeFee: decimal.Zero, MaxBalanceCap: capOf("10"), RevenueSharePercent: decimal.NewFromInt(10)},
		{Level: 1, UpgradeFee: decimal.RequireFromString("5"), MaxBalanceCap: capOf("50"), RevenueSharePercent: decimal.NewFromInt(35)},
		{Level: 2, UpgradeFee: decimal.RequireFromString("15"), MaxBalanceCap: capOf("200"), RevenueSharePercent: decimal.NewFromInt(55)},
		{Level: 3, UpgradeFee: decimal.RequireFromString("40"), MaxBalanceCap: nil, RevenueSharePercent: decimal.NewFromInt(78)},
	}
}

// Engine maps events and levels to entitlements.
type Engine struct {
	plans []LevelPlan // indexed by level
}

// NewEngine validates plans and builds an Engine.
// Levels must be contiguous from 0 and revenue share must never drop as level rises.
func NewEngine(plans []LevelPlan) (*Engine, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: level table is empty", model.ErrConfiguration)
	}

	sorted := make([]LevelPlan, len(plans))
	copy(sorted, plans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	for i, p := range sorted {
		if p.Level != i {
			return nil, fmt.Errorf("%w: level table missing level %d", model.ErrConfiguration, i)
		}
		if p.RevenueSharePercent.IsNegative() || p.RevenueSharePercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: level %d revenue share %s out of range", model.ErrConfiguration, p.Level, p.RevenueSharePercent)
		}
		if p.UpgradeFee.IsNegative() {
			return nil, fmt.Errorf("%w: level %d has negative upgrade fee", model.ErrConfiguration, p.Level)
		}
		if p.MaxBalanceCap != nil && p.MaxBalanceCap.IsNegative() {
			return nil, fmt.Errorf("%w: level %d has negative balance cap", model.ErrConfiguration, p.Level)
		}
		if i > 0 && p.RevenueSharePercent.LessThan(sorted[i-1].RevenueSharePercent) {
			return nil, fmt.Errorf("%w: revenue share drops at level %d", model.ErrConfiguration, p.Level)
		}
	}

	return &Engine{plans: sorted}, nil
}

// MustDefaultEngine builds an Engine from DefaultLevelPlans.
func MustDefaultEngine() *Engine {
	e, err := NewEngine(DefaultLevelPlans())
	if err != nil {
		panic(err)
	}
	return e
}

// MaxLevel returns the highest configured level.
func (e *Engine) MaxLevel() int {
	return len(e.plans) - 1
}

// Plan returns the plan for level.
func (e *Engine) Plan(level int) (LevelPlan, bool) {
	if level < 0 || level >= len(e.plans) {
		return LevelPlan{}, false
	}
	return e.plans[level], true
}

// RevenueShareFor returns the user's share of ad revenue in percent.
// Unknown or negative levels get the level-0 rate, never a more generous one.
func (e *Engine) RevenueShareFor(level int) decimal.Decimal {
	if p, ok := e.Plan(level); ok {
		return p.RevenueSharePercent
	}
	return e.plans[0].RevenueSharePercent
}

// EntitlementForAdEvent returns baseRevenue scaled by the level's revenue share,
// rounded half-even to four places.
func (e *Engine) EntitlementForAdEvent(baseRevenue decimal.Decimal, level int) (decimal.Decimal, error) {
	if baseRevenue.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: base revenue %s is negative", model.ErrInvalidAmount, baseRevenue)
	}
	share := e.RevenueShareFor(level)
	return baseRevenue.Mul(share).Div(hundred).RoundBank(model.MoneyPlaces), nil
}

// LevelUpgradeCost sums the per-step fees from fromLevel+1 through toLevel.
func (e *Engine) LevelUpgradeCost(fromLevel, toLevel int) (decimal.Decimal, error) {
	if fromLevel < 0 || toLevel <= fromLevel {
		return decimal.Zero, fmt.Errorf("%w: %d -> %d", ErrInvalidLevelChange, fromLevel, toLevel)
	}

	total := decimal.Zero
	for lvl := fromLevel + 1; lvl <= toLevel; lvl++ {
		p, ok := e.Plan(lvl)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no plan for level %d", model.ErrConfiguration, lvl)
		}
		total = total.Add(p.UpgradeFee)
	}
	return total, nil
}

// BalanceCapFor returns the level's balance cap. bounded is false for unbounded levels.
func (e *Engine) BalanceCapFor(level int) (limit decimal.Decimal, bounded bool) {
	p, ok := e.Plan(level)
	if !ok {
		p = e.plans[0]
	}
	if p.MaxBalanceCap == nil {
		return decimal.Zero, false
	}
	return *p.MaxBalanceCap, true
}

// ValidateDeposit rejects deposits that would push balance over the level cap.
// Earnings are not subject to this check.
func (e *Engine) ValidateDeposit(level int, balance, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit must be positive", model.ErrInvalidAmount)
	}
	limit, bounded := e.BalanceCapFor(level)
	if bounded && balance.Add(amount).GreaterThan(limit) {
		return fmt.Errorf("%w: cap %s", ErrBalanceCapExceeded, limit)
	}
	return nil
}

// PendingPortion is the part of available above the level cap.
func (e *Engine) PendingPortion(level int, available decimal.Decimal) decimal.Decimal {
	limit, bounded := e.BalanceCapFor(level)
	if !bounded || available.LessThanOrEqual(limit) {
		return decimal.Zero
	}
	return available.Sub(limit)
}

// WithdrawableBalance is min(available, cap).
func (e *Engine) WithdrawableBalance(level int, available decimal.Decimal) decimal.Decimal {
	if available.IsNegative() {
		return decimal.Zero
	}
	return available.Sub(e.PendingPortion(level, available))
}
