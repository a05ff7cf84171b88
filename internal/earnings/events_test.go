package earnings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promo-rewards/internal/model"
)

func TestParseAdEvent(t *testing.T) {
	tests := []struct {
		kind    string
		wantTx  model.TxType
		wantKey string
	}{
		{"view", model.TxTypeAdRevenue, "ad:adsgram:view:ev-1"},
		{"impression", model.TxTypeAdRevenue, "ad:adsgram:view:ev-1"},
		{"OFFER", model.TxTypeTaskReward, "ad:adsgram:offer:ev-1"},
		{"click", model.TxTypeAdRevenue, "ad:adsgram:click:ev-1"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ev, err := ParseAdEvent(tt.kind, 42, " adsgram ", "ev-1", "0.0400")
			require.NoError(t, err)
			assert.Equal(t, int64(42), ev.User())
			assert.Equal(t, tt.wantTx, ev.TxType())
			assert.Equal(t, tt.wantKey, ev.IdempotencyKey())
			assert.True(t, ev.Revenue().Equal(dec("0.04")))
			assert.NotEmpty(t, ev.Description())
		})
	}
}

func TestParseAdEvent_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		user     int64
		platform string
		eventID  string
		revenue  string
		want     error
	}{
		{"unknown kind", "install", 1, "p", "e", "1", ErrInvalidEvent},
		{"no platform", "view", 1, " ", "e", "1", ErrInvalidEvent},
		{"no event id", "view", 1, "p", "", "1", ErrInvalidEvent},
		{"bad user", "view", 0, "p", "e", "1", ErrInvalidEvent},
		{"not numeric", "view", 1, "p", "e", "abc", model.ErrInvalidAmount},
		{"negative", "view", 1, "p", "e", "-0.5", model.ErrInvalidAmount},
		{"revenue too large", "view", 1, "p", "e", "1e18", model.ErrInvalidAmount},
		{"revenue at bound", "offer", 1, "p", "e", "10000000000000000", model.ErrInvalidAmount},
		{"long event id", "view", 1, "p", strings.Repeat("x", 400), "1", ErrInvalidEvent},
		{"long platform", "view", 1, strings.Repeat("p", MaxPlatformLength+1), "e", "1", ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAdEvent(tt.kind, tt.user, tt.platform, tt.eventID, tt.revenue)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEventKeysDifferByKind(t *testing.T) {
	v := NewAdViewEvent(1, "net", "x", dec("1"))
	c := NewClickEvent(1, "net", "x", dec("1"))
	o := NewOfferCompletionEvent(1, "net", "x", dec("1"))

	assert.NotEqual(t, v.IdempotencyKey(), c.IdempotencyKey())
	assert.NotEqual(t, v.IdempotencyKey(), o.IdempotencyKey())
}

func TestAdEventKeyFitsStorage(t *testing.T) {
	ev, err := ParseAdEvent("offer_completion", 1,
		strings.Repeat("p", MaxPlatformLength), strings.Repeat("e", MaxEventIDLength), "9999999999999999.9999")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ev.IdempotencyKey()), model.MaxKeyLength)
}

func TestValidateAdEvent(t *testing.T) {
	assert.ErrorIs(t, ValidateAdEvent(nil), ErrInvalidEvent)
	assert.NoError(t, ValidateAdEvent(NewClickEvent(1, "net", "x", dec("0.5"))))
	assert.ErrorIs(t, ValidateAdEvent(NewAdViewEvent(1, "net", strings.Repeat("x", 400), dec("1"))), ErrInvalidEvent)
	assert.ErrorIs(t, ValidateAdEvent(NewAdViewEvent(1, "net", "x", dec("1e18"))), model.ErrInvalidAmount)
}
