// Package referral holds the referral milestone table.
package referral

import (
	"fmt"

	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

// Tier pays Bonus once when a referrer reaches Threshold qualifying referrals.
type Tier struct {
	Threshold int             `json:"threshold" mapstructure:"threshold"`
	Bonus     decimal.Decimal `json:"bonus" mapstructure:"bonus"`
}

// Table is an ascending list of tiers.
type Table struct {
	tiers []Tier
}

// DefaultTiers returns the published milestone table.
func DefaultTiers() []Tier {
	return []Tier{
		{Threshold: 5, Bonus: decimal.NewFromInt(10)},
		{Threshold: 15, Bonus: decimal.NewFromInt(25)},
		{Threshold: 30, Bonus: decimal.NewFromInt(50)},
		{Threshold: 50, Bonus: decimal.NewFromInt(100)},
		{Threshold: 100, Bonus: decimal.NewFromInt(250)},
	}
}

// NewTable validates tiers: thresholds strictly ascending and positive, bonuses positive.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: referral tier table is empty", model.ErrConfiguration)
	}
	prev := 0
	for _, t := range tiers {
		if t.Threshold <= prev {
			return nil, fmt.Errorf("%w: referral threshold %d is not ascending", model.ErrConfiguration, t.Threshold)
		}
		if !t.Bonus.IsPositive() || !model.HasMoneyPrecision(t.Bonus) {
			return nil, fmt.Errorf("%w: referral bonus %s for threshold %d", model.ErrConfiguration, t.Bonus, t.Threshold)
		}
		prev = t.Threshold
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return &Table{tiers: out}, nil
}

// MustDefaultTable builds a Table from DefaultTiers.
func MustDefaultTable() *Table {
	t, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return t
}

// Tiers returns a copy of the table.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Due returns the tiers reached by count that are not in paid, in ascending order.
func (t *Table) Due(count int, paid map[int]bool) []Tier {
	var due []Tier
	for _, tier := range t.tiers {
		if tier.Threshold > count {
			break
		}
		if paid[tier.Threshold] {
			continue
		}
		due = append(due, tier)
	}
	return due
}

// IdempotencyKey is the ledger key for paying threshold to userID.
func IdempotencyKey(userID int64, threshold int) string {
	return fmt.Sprintf("referral:%d:%d", userID, threshold)
}
