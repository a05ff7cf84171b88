package referral

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"promo-rewards/internal/model"
)

func TestDue(t *testing.T) {
	tbl := MustDefaultTable()

	tests := []struct {
		name  string
		count int
		paid  map[int]bool
		want  []int
	}{
		{"none reached", 4, nil, nil},
		{"first tier", 5, nil, []int{5}},
		{"crossing 15 with 5 paid", 15, map[int]bool{5: true}, []int{15}},
		{"all paid at 15", 15, map[int]bool{5: true, 15: true}, nil},
		{"jump over several", 60, map[int]bool{5: true}, []int{15, 30, 50}},
		{"everything", 1000, nil, []int{5, 15, 30, 50, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for _, tier := range tbl.Due(tt.count, tt.paid) {
				got = append(got, tier.Threshold)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestDueExactlyOnceProperty: once every due tier is marked paid, nothing is due again.
func TestDueExactlyOnceProperty(t *testing.T) {
	tbl := MustDefaultTable()
	rapid.Check(t, func(t *rapid.T) {
		counts := rapid.SliceOfN(rapid.IntRange(0, 150), 1, 20).Draw(t, "counts")
		paid := map[int]bool{}
		count := 0
		for _, c := range counts {
			if c > count {
				count = c // qualifying count is monotone in this model
			}
			for _, tier := range tbl.Due(count, paid) {
				if paid[tier.Threshold] {
					t.Fatalf("tier %d due twice", tier.Threshold)
				}
				paid[tier.Threshold] = true
			}
			if len(tbl.Due(count, paid)) != 0 {
				t.Fatalf("tiers still due after paying at count %d", count)
			}
		}
	})
}

func TestNewTable_Validation(t *testing.T) {
	d := decimal.NewFromInt

	bad := [][]Tier{
		nil,
		{{Threshold: 0, Bonus: d(1)}},
		{{Threshold: 5, Bonus: d(1)}, {Threshold: 5, Bonus: d(2)}},
		{{Threshold: 10, Bonus: d(1)}, {Threshold: 5, Bonus: d(2)}},
		{{Threshold: 5, Bonus: d(0)}},
		{{Threshold: 5, Bonus: decimal.RequireFromString("1.00001")}},
	}
	for i, tiers := range bad {
		_, err := NewTable(tiers)
		assert.ErrorIs(t, err, model.ErrConfiguration, "case %d", i)
	}

	tbl, err := NewTable(DefaultTiers())
	require.NoError(t, err)
	assert.Len(t, tbl.Tiers(), 5)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "referral:42:15", IdempotencyKey(42, 15))
}
