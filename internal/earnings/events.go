package earnings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

// ErrInvalidEvent is returned for ad callbacks that cannot be turned into an AdEvent.
var ErrInvalidEvent = errors.New("invalid ad event")

// Field limits keep the derived idempotency key within model.MaxKeyLength.
const (
	MaxPlatformLength = 64
	MaxEventIDLength  = 128
)

// Ad event kinds as they appear in network callbacks.
const (
	KindView  = "view"
	KindOffer = "offer"
	KindClick = "click"
)

// AdEvent is a validated ad-network callback. The set of implementations is closed.
type AdEvent interface {
	Kind() string
	User() int64
	Revenue() decimal.Decimal
	TxType() model.TxType
	IdempotencyKey() string
	Description() string

	validate() error
}

type adBase struct {
	UserID      int64
	Platform    string
	EventID     string
	BaseRevenue decimal.Decimal
}

func (b adBase) User() int64 { return b.UserID }
func (b adBase) Revenue() decimal.Decimal { return b.BaseRevenue }
func (b adBase) key(kind string) string { return fmt.Sprintf("ad:%s:%s:%s", b.Platform, kind, b.EventID) }
func (b adBase) describe(what string) string {
	return fmt.Sprintf("%s on %s (%s)", what, b.Platform, b.EventID)
}

func (b adBase) validate() error {
	if b.UserID <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidEvent, b.UserID)
	}
	if b.Platform == "" || len(b.Platform) > MaxPlatformLength {
		return fmt.Errorf("%w: platform must be 1..%d bytes", ErrInvalidEvent, MaxPlatformLength)
	}
	if b.EventID == "" || len(b.EventID) > MaxEventIDLength {
		return fmt.Errorf("%w: event id must be 1..%d bytes", ErrInvalidEvent, MaxEventIDLength)
	}
	if b.BaseRevenue.IsNegative() {
		return fmt.Errorf("%w: base revenue %s is negative", model.ErrInvalidAmount, b.BaseRevenue)
	}
	if !model.InMoneyRange(b.BaseRevenue) {
		return fmt.Errorf("%w: base revenue %s is out of range", model.ErrInvalidAmount, b.BaseRevenue)
	}
	return nil
}

// ValidateAdEvent checks an event built without ParseAdEvent.
func ValidateAdEvent(ev AdEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: no event", ErrInvalidEvent)
	}
	return ev.validate()
}

// AdViewEvent is a completed ad impression.
type AdViewEvent struct{ adBase }

func (AdViewEvent) Kind() string { return KindView }
func (AdViewEvent) TxType() model.TxType { return model.TxTypeAdRevenue }
func (e AdViewEvent) IdempotencyKey() string { return e.key(KindView) }
func (e AdViewEvent) Description() string { return e.describe("Ad view") }

// OfferCompletionEvent is a completed offerwall task.
type OfferCompletionEvent struct{ adBase }

func (OfferCompletionEvent) Kind() string { return KindOffer }
func (OfferCompletionEvent) TxType() model.TxType { return model.TxTypeTaskReward }
func (e OfferCompletionEvent) IdempotencyKey() string { return e.key(KindOffer) }
func (e OfferCompletionEvent) Description() string { return e.describe("Offer completed") }

// ClickEvent is a tracked ad click.
type ClickEvent struct{ adBase }

func (ClickEvent) Kind() string { return KindClick }
func (ClickEvent) TxType() model.TxType { return model.TxTypeAdRevenue }
func (e ClickEvent) IdempotencyKey() string { return e.key(KindClick) }
func (e ClickEvent) Description() string { return e.describe("Ad click") }

// ParseAdEvent validates a loosely typed callback and returns the matching variant.
// baseRevenue is the network's decimal string.
func ParseAdEvent(kind string, userID int64, platform, eventID, baseRevenue string) (AdEvent, error) {
	platform = strings.TrimSpace(platform)
	eventID = strings.TrimSpace(eventID)

	rev, err := decimal.NewFromString(strings.TrimSpace(baseRevenue))
	if err != nil {
		return nil, fmt.Errorf("%w: base revenue %q is not numeric", model.ErrInvalidAmount, baseRevenue)
	}

	b := adBase{UserID: userID, Platform: platform, EventID: eventID, BaseRevenue: rev}
	var ev AdEvent
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindView, "impression":
		ev = AdViewEvent{b}
	case KindOffer, "offer_completion":
		ev = OfferCompletionEvent{b}
	case KindClick:
		ev = ClickEvent{b}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, kind)
	}
	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// NewAdViewEvent builds an AdViewEvent without string parsing.
func NewAdViewEvent(userID int64, platform, eventID string, baseRevenue decimal.Decimal) AdViewEvent {
	return AdViewEvent{adBase{UserID: userID, Platform: platform, EventID: eventID, BaseRevenue: baseRevenue}}
}

// NewOfferCompletionEvent builds an OfferCompletionEvent without string parsing.
func NewOfferCompletionEvent(userID int64, platform, eventID string, baseRevenue decimal.Decimal) OfferCompletionEvent {
	return OfferCompletionEvent{adBase{UserID: userID, Platform: platform, EventID: eventID, BaseRevenue: baseRevenue}}
}

// NewClickEvent builds a ClickEvent without string parsing.
func NewClickEvent(userID int64, platform, eventID string, baseRevenue decimal.Decimal) ClickEvent {
	return ClickEvent{adBase{UserID: userID, Platform: platform, EventID: eventID, BaseRevenue: baseRevenue}}
}
