// Package ledger tracks token balances for accounts and anonymous sessions.
//
// Debits are atomic compare-and-decrement operations in the backing store, so a
// balance never goes negative even when one actor submits concurrently.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/metrics"
	"github.com/bobarin/slnpart/internal/models"
)

// AccountStore holds durable account balances.
type AccountStore interface {
	AccountTokens(ctx context.Context, id uuid.UUID) (int, error)
	DebitAccountTokens(ctx context.Context, id uuid.UUID, amount int) (int, error)
	CreditAccountTokens(ctx context.Context, id uuid.UUID, amount int, settlementID string) (int, bool, error)
}

// SessionStore holds ephemeral anonymous-session balances.
type SessionStore interface {
	Tokens(ctx context.Context, sessionID string) (int, error)
	Debit(ctx context.Context, sessionID string, amount int) (int, error)
	Credit(ctx context.Context, sessionID string, amount int, settlementID string) (int, bool, error)
}

type Ledger struct {
	accounts AccountStore
	sessions SessionStore
	log      zerolog.Logger
}

func New(accounts AccountStore, sessions SessionStore, log zerolog.Logger) *Ledger {
	return &Ledger{accounts: accounts, sessions: sessions, log: log}
}

// Balance returns the actor's current token balance.
func (l *Ledger) Balance(ctx context.Context, actor models.Actor) (int, error) {
	switch actor.Kind {
	case models.ActorAccount:
		id, err := accountID(actor)
		if err != nil {
			return 0, err
		}
		return l.accounts.AccountTokens(ctx, id)
	case models.ActorSession:
		return l.sessions.Tokens(ctx, actor.ID)
	}
	return 0, unknownActor(actor)
}

// Debit subtracts amount, failing with models.ErrInsufficientFunds and an
// unchanged balance when amount exceeds it.
func (l *Ledger) Debit(ctx context.Context, actor models.Actor, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: debit amount must be positive", models.ErrValidation)
	}

	var balance int
	var err error
	switch actor.Kind {
	case models.ActorAccount:
		var id uuid.UUID
		if id, err = accountID(actor); err != nil {
			return 0, err
		}
		balance, err = l.accounts.DebitAccountTokens(ctx, id, amount)
	case models.ActorSession:
		balance, err = l.sessions.Debit(ctx, actor.ID, amount)
	default:
		return 0, unknownActor(actor)
	}

	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		metrics.LedgerDebitsTotal.WithLabelValues("insufficient").Inc()
		return balance, err
	case err != nil:
		metrics.LedgerDebitsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	metrics.LedgerDebitsTotal.WithLabelValues("ok").Inc()
	l.log.Debug().Str("actor", actor.String()).Int("amount", amount).Int("balance", balance).Msg("debited")
	return balance, nil
}

// Credit adds amount exactly once per settlementID. Duplicate confirmations
// return the current balance with applied=false.
func (l *Ledger) Credit(ctx context.Context, actor models.Actor, amount int, settlementID string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("%w: credit amount must be positive", models.ErrValidation)
	}
	if settlementID == "" {
		return 0, false, fmt.Errorf("%w: settlement id is required", models.ErrValidation)
	}

	var balance int
	var applied bool
	var err error
	switch actor.Kind {
	case models.ActorAccount:
		var id uuid.UUID
		if id, err = accountID(actor); err != nil {
			return 0, false, err
		}
		balance, applied, err = l.accounts.CreditAccountTokens(ctx, id, amount, settlementID)
	case models.ActorSession:
		balance, applied, err = l.sessions.Credit(ctx, actor.ID, amount, settlementID)
	default:
		return 0, false, unknownActor(actor)
	}
	if err != nil {
		return 0, false, err
	}

	if applied {
		metrics.TokensCreditedTotal.Add(float64(amount))
		l.log.Info().Str("actor", actor.String()).Int("amount", amount).Str("settlement_id", settlementID).Int("balance", balance).Msg("credited")
	} else {
		l.log.Warn().Str("actor", actor.String()).Str("settlement_id", settlementID).Msg("duplicate settlement ignored")
	}
	return balance, applied, nil
}

func accountID(actor models.Actor) (uuid.UUID, error) {
	id, ok := actor.AccountID()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: malformed account id %q", models.ErrValidation, actor.ID)
	}
	return id, nil
}

func unknownActor(actor models.Actor) error {
	return fmt.Errorf("%w: unknown actor kind %q", models.ErrValidation, actor.Kind)
}
