package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
)

type stubAccounts struct {
	balances map[uuid.UUID]int
	settled  map[string]bool
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{balances: map[uuid.UUID]int{}, settled: map[string]bool{}}
}

func (s *stubAccounts) AccountTokens(_ context.Context, id uuid.UUID) (int, error) {
	b, ok := s.balances[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	return b, nil
}

func (s *stubAccounts) DebitAccountTokens(_ context.Context, id uuid.UUID, amount int) (int, error) {
	b, ok := s.balances[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	if amount > b {
		return b, models.ErrInsufficientFunds
	}
	s.balances[id] = b - amount
	return b - amount, nil
}

func (s *stubAccounts) CreditAccountTokens(_ context.Context, id uuid.UUID, amount int, settlementID string) (int, bool, error) {
	if s.settled[settlementID] {
		return s.balances[id], false, nil
	}
	s.settled[settlementID] = true
	s.balances[id] += amount
	return s.balances[id], true, nil
}

type stubSessions struct {
	starting int
	balances map[string]int
	settled  map[string]bool
}

func (s *stubSessions) seed(id string) int {
	if _, ok := s.balances[id]; !ok {
		s.balances[id] = s.starting
	}
	return s.balances[id]
}

func (s *stubSessions) Tokens(_ context.Context, id string) (int, error) {
	return s.seed(id), nil
}

func (s *stubSessions) Debit(_ context.Context, id string, amount int) (int, error) {
	b := s.seed(id)
	if amount > b {
		return b, models.ErrInsufficientFunds
	}
	s.balances[id] = b - amount
	return b - amount, nil
}

func (s *stubSessions) Credit(_ context.Context, id string, amount int, settlementID string) (int, bool, error) {
	b := s.seed(id)
	if s.settled[settlementID] {
		return b, false, nil
	}
	s.settled[settlementID] = true
	s.balances[id] = b + amount
	return b + amount, true, nil
}

func newTestLedger() (*Ledger, *stubAccounts, *stubSessions) {
	accounts := newStubAccounts()
	sessions := &stubSessions{starting: 64, balances: map[string]int{}, settled: map[string]bool{}}
	return New(accounts, sessions, zerolog.Nop()), accounts, sessions
}

func TestDebitNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	l, accounts, _ := newTestLedger()
	id := uuid.New()
	accounts.balances[id] = 3
	actor := models.AccountActor(id)

	for _, amount := range []int{1, 5, 1, 1, 1} {
		before, _ := l.Balance(ctx, actor)
		after, err := l.Debit(ctx, actor, amount)
		if amount > before {
			if !errors.Is(err, models.ErrInsufficientFunds) {
				t.Fatalf("debit %d from %d: expected ErrInsufficientFunds, got %v", amount, before, err)
			}
			if after != before {
				t.Fatalf("failed debit changed balance from %d to %d", before, after)
			}
			continue
		}
		if err != nil {
			t.Fatalf("debit %d from %d: %v", amount, before, err)
		}
		if after != before-amount {
			t.Fatalf("expected %d, got %d", before-amount, after)
		}
	}

	final, _ := l.Balance(ctx, actor)
	if final != 0 {
		t.Errorf("expected 0, got %d", final)
	}
}

func TestSessionSeededOnFirstContact(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()
	actor := models.SessionActor("sess-1")

	balance, err := l.Balance(ctx, actor)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 64 {
		t.Errorf("expected seeded balance 64, got %d", balance)
	}

	balance, err = l.Debit(ctx, actor, VideoCost)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if balance != 59 {
		t.Errorf("expected 59 after video debit, got %d", balance)
	}
}

func TestCreditIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	l, accounts, _ := newTestLedger()
	id := uuid.New()
	accounts.balances[id] = 2
	actor := models.AccountActor(id)

	balance, applied, err := l.Credit(ctx, actor, 100, "cs_1")
	if err != nil || !applied || balance != 102 {
		t.Fatalf("expected applied credit to 102, got %d %v %v", balance, applied, err)
	}

	balance, applied, err = l.Credit(ctx, actor, 100, "cs_1")
	if err != nil || applied || balance != 102 {
		t.Fatalf("expected duplicate ignored at 102, got %d %v %v", balance, applied, err)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()

	cases := []struct {
		name string
		fn   func() error
	}{
		{"zero debit", func() error { _, err := l.Debit(ctx, models.SessionActor("s"), 0); return err }},
		{"negative credit", func() error { _, _, err := l.Credit(ctx, models.SessionActor("s"), -1, "x"); return err }},
		{"missing settlement", func() error { _, _, err := l.Credit(ctx, models.SessionActor("s"), 1, ""); return err }},
		{"bad account id", func() error { _, err := l.Balance(ctx, models.Actor{Kind: models.ActorAccount, ID: "nope"}); return err }},
		{"unknown kind", func() error { _, err := l.Balance(ctx, models.Actor{Kind: "robot", ID: "r"}); return err }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.fn(); !errors.Is(err, models.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCosts(t *testing.T) {
	costs := DefaultCosts()
	want := map[models.JobKind]int{
		models.JobKindCoverArt:    1,
		models.JobKindAudioMaster: 1,
		models.JobKindVideo:       5,
	}
	for kind, cost := range want {
		got, err := costs.For(kind)
		if err != nil {
			t.Fatalf("For(%s): %v", kind, err)
		}
		if got != cost {
			t.Errorf("For(%s) = %d, want %d", kind, got, cost)
		}
	}

	if _, err := costs.For("podcast"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown kind, got %v", err)
	}
}
