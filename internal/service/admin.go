package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

// ErrInvalidCommand is returned for malformed admin commands.
var ErrInvalidCommand = errors.New("invalid admin command")

// AdminKind names an admin command.
type AdminKind string

// Admin command kinds.
const (
	AdminCredit             AdminKind = "credit"
	AdminDebit              AdminKind = "debit"
	AdminSetBalance         AdminKind = "set_balance"
	AdminWithdrawalOverride AdminKind = "withdrawal_override"
	AdminSetLevel           AdminKind = "set_level"
)

// AdminCommand is one privileged operation requested by an operator.
// ID identifies the request; replaying a credit or debit with the same ID is a no-op.
type AdminCommand struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      int64           `json:"actor_id"`
	TargetUserID int64           `json:"target_user_id"`
	Kind         AdminKind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Level        int             `json:"level"`
	Override     bool            `json:"override"`
	Reason       string          `json:"reason"`
}

// Validate checks the command shape. It does not look at any stored state.
func (c *AdminCommand) Validate() error {
	if c.ActorID <= 0 {
		return fmt.Errorf("%w: missing actor", ErrInvalidCommand)
	}
	if c.TargetUserID <= 0 {
		return fmt.Errorf("%w: missing target user", ErrInvalidCommand)
	}

	switch c.Kind {
	case AdminCredit, AdminDebit:
		if !c.Amount.IsPositive() || !model.HasMoneyPrecision(c.Amount) || !model.InMoneyRange(c.Amount) {
			return fmt.Errorf("%w: %s amount %s", model.ErrInvalidAmount, c.Kind, c.Amount)
		}
	case AdminSetBalance:
		if c.Amount.IsNegative() || !model.HasMoneyPrecision(c.Amount) || !model.InMoneyRange(c.Amount) {
			return fmt.Errorf("%w: target balance %s", model.ErrInvalidAmount, c.Amount)
		}
	case AdminSetLevel:
		if c.Level < 0 {
			return fmt.Errorf("%w: level %d", ErrInvalidCommand, c.Level)
		}
	case AdminWithdrawalOverride:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// AdminResult carries the target's state after a command.
type AdminResult struct {
	Account     *model.Account
	Wallet      *model.Wallet
	Transaction *model.Transaction
	Duplicate   bool
}

// AdminService applies audited admin commands through the ledger.
type AdminService struct {
	accounts AccountStore
	ledger   *ledger.Ledger
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(accounts AccountStore, l *ledger.Ledger) *AdminService {
	return &AdminService{accounts: accounts, ledger: l}
}

// Execute validates and runs cmd. The admin note is written in the same unit
// as the change it describes.
func (s *AdminService) Execute(ctx context.Context, cmd AdminCommand) (*AdminResult, error) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.Kind == AdminSetLevel {
		if _, ok := s.ledger.Engine().Plan(cmd.Level); !ok {
			return nil, fmt.Errorf("%w: no plan for level %d", ErrInvalidCommand, cmd.Level)
		}
	}

	var out *AdminResult
	err := s.ledger.Atomically(ctx, cmd.TargetUserID, func(ctx context.Context, u *ledger.Unit) error {
		var err error
		switch cmd.Kind {
		case AdminCredit, AdminDebit:
			out, err = s.adjust(ctx, u, cmd)
		case AdminSetBalance:
			out, err = s.setBalance(ctx, u, cmd)
		case AdminWithdrawalOverride:
			out, err = s.setOverride(ctx, u, cmd)
		case AdminSetLevel:
			out, err = s.setLevel(ctx, u, cmd)
		}
		if err != nil {
			return err
		}
		if out.Duplicate {
			return nil
		}
		return u.Tx().RecordAdminAction(ctx, s.note(cmd))
	})
	if err != nil {
		log.Warn().
			Err(err).
			Int64("actor_id", cmd.ActorID).
			Int64("target_user_id", cmd.TargetUserID).
			Str("kind", string(cmd.Kind)).
			Msg("Admin command failed")
		return nil, err
	}

	log.Info().
		Str("command_id", cmd.ID.String()).
		Int64("actor_id", cmd.ActorID).
		Int64("target_user_id", cmd.TargetUserID).
		Str("kind", string(cmd.Kind)).
		Bool("duplicate", out.Duplicate).
		Msg("Admin command applied")
	return out, nil
}

// AdjustBalance credits (positive amount) or debits (negative amount) the target.
func (s *AdminService) AdjustBalance(ctx context.Context, actorID, targetUserID int64, amount decimal.Decimal, reason string) (*AdminResult, error) {
	cmd := AdminCommand{ActorID: actorID, TargetUserID: targetUserID, Kind: AdminCredit, Amount: amount, Reason: reason}
	if amount.IsNegative() {
		cmd.Kind = AdminDebit
		cmd.Amount = amount.Neg()
	}
	return s.Execute(ctx, cmd)
}

// SetExactBalance moves the target's available balance to target.
func (s *AdminService) SetExactBalance(ctx context.Context, actorID, targetUserID int64, target decimal.Decimal, reason string) (*AdminResult, error) {
	return s.Execute(ctx, AdminCommand{ActorID: actorID, TargetUserID: targetUserID, Kind: AdminSetBalance, Amount: target, Reason: reason})
}

// SetWithdrawalOverride sets the flag that lifts the withdrawable-balance limit.
func (s *AdminService) SetWithdrawalOverride(ctx context.Context, actorID, targetUserID int64, override bool, reason string) (*AdminResult, error) {
	return s.Execute(ctx, AdminCommand{ActorID: actorID, TargetUserID: targetUserID, Kind: AdminWithdrawalOverride, Override: override, Reason: reason})
}

// SetLevel moves the target to level, downgrades included.
func (s *AdminService) SetLevel(ctx context.Context, actorID, targetUserID int64, level int, reason string) (*AdminResult, error) {
	return s.Execute(ctx, AdminCommand{ActorID: actorID, TargetUserID: targetUserID, Kind: AdminSetLevel, Level: level, Reason: reason})
}

// Actions returns the admin notes written for a user, newest first.
func (s *AdminService) Actions(ctx context.Context, targetUserID int64, limit int) ([]*model.AdminAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.accounts.AdminActions(ctx, targetUserID, limit)
}

func (s *AdminService) adjust(ctx context.Context, u *ledger.Unit, cmd AdminCommand) (*AdminResult, error) {
	amount := cmd.Amount
	verb := "credit"
	if cmd.Kind == AdminDebit {
		amount = amount.Neg()
		verb = "debit"
	}

	desc := fmt.Sprintf("Admin %s by %d", verb, cmd.ActorID)
	if cmd.Reason != "" {
		desc += ": " + cmd.Reason
	}

	res, err := u.Apply(ctx, ledger.Entry{
		UserID:         cmd.TargetUserID,
		Amount:         amount,
		Type:           model.TxTypeAdminAdjustment,
		Description:    desc,
		IdempotencyKey: "admin:" + cmd.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	return &AdminResult{
		Account:     u.Account(),
		Wallet:      res.Wallet,
		Transaction: res.Transaction,
		Duplicate:   res.Duplicate,
	}, nil
}

func (s *AdminService) setBalance(ctx context.Context, u *ledger.Unit, cmd AdminCommand) (*AdminResult, error) {
	res, err := u.SetExactBalance(ctx, cmd.Amount, cmd.ActorID)
	if err != nil {
		return nil, err
	}
	return &AdminResult{Account: u.Account(), Wallet: res.Wallet, Transaction: res.Transaction}, nil
}

func (s *AdminService) setOverride(ctx context.Context, u *ledger.Unit, cmd AdminCommand) (*AdminResult, error) {
	acc := *u.Account()
	acc.WithdrawalOverride = cmd.Override
	acc.UpdatedAt = s.ledger.Now()
	if err := u.Tx().UpdateAccount(ctx, &acc); err != nil {
		return nil, err
	}
	w, err := u.Tx().Wallet(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminResult{Account: u.Account(), Wallet: w}, nil
}

func (s *AdminService) setLevel(ctx context.Context, u *ledger.Unit, cmd AdminCommand) (*AdminResult, error) {
	acc, err := u.SetLevel(ctx, cmd.Level)
	if err != nil {
		return nil, err
	}
	w, err := u.Tx().Wallet(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminResult{Account: acc, Wallet: w}, nil
}

func (s *AdminService) note(cmd AdminCommand) *model.AdminAction {
	details := map[string]any{"command_id": cmd.ID.String()}
	switch cmd.Kind {
	case AdminCredit, AdminDebit, AdminSetBalance:
		details["amount"] = cmd.Amount.StringFixed(model.MoneyPlaces)
	case AdminWithdrawalOverride:
		details["override"] = cmd.Override
	case AdminSetLevel:
		details["level"] = cmd.Level
	}
	if cmd.Reason != "" {
		details["reason"] = cmd.Reason
	}

	return &model.AdminAction{
		ID:           uuid.New(),
		ActorID:      cmd.ActorID,
		TargetUserID: cmd.TargetUserID,
		Kind:         string(cmd.Kind),
		Details:      details,
		CreatedAt:    s.ledger.Now(),
	}
}
