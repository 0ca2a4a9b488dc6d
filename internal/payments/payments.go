// Package payments sells token packages through a hosted checkout and credits
// settled payments into the ledger exactly once.
package payments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/services"
)

// Package is a purchasable bundle of tokens.
type Package struct {
	Name        string `json:"name"`
	Tokens      int    `json:"tokens"`
	AmountCents int    `json:"amount_cents"`
}

var packages = map[string]Package{
	"starter":  {Name: "starter", Tokens: 100, AmountCents: 999},
	"pro":      {Name: "pro", Tokens: 300, AmountCents: 2499},
	"ultimate": {Name: "ultimate", Tokens: 700, AmountCents: 6999},
}

// Packages lists the catalogue ordered by price.
func Packages() []Package {
	list := make([]Package, 0, len(packages))
	for _, p := range packages {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AmountCents < list[j].AmountCents })
	return list
}

// Gateway is the hosted checkout collaborator.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p services.CheckoutParams) (*services.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*services.CheckoutSession, error)
}

// Crediter is the ledger's credit path.
type Crediter interface {
	Credit(ctx context.Context, actor models.Actor, amount int, settlementID string) (int, bool, error)
}

const (
	metaAccount = "account_id"
	metaPackage = "package"
)

type Service struct {
	gateway Gateway
	ledger  Crediter
	baseURL string
	log     zerolog.Logger
}

func NewService(gateway Gateway, ledger Crediter, publicBaseURL string, log zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		ledger:  ledger,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		log:     log,
	}
}

// Checkout starts a payment for a package and returns the session to redirect to.
// Only accounts can buy tokens.
func (s *Service) Checkout(ctx context.Context, actor models.Actor, packageName string) (*services.CheckoutSession, error) {
	accountID, ok := actor.AccountID()
	if !ok {
		return nil, fmt.Errorf("checkout requires an account: %w", models.ErrUnauthorized)
	}
	pkg, ok := packages[packageName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownPackage, packageName)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, services.CheckoutParams{
		ProductName: fmt.Sprintf("SLNP Art %s package (%d tokens)", pkg.Name, pkg.Tokens),
		AmountCents: pkg.AmountCents,
		SuccessURL:  s.baseURL + "/v1/checkout/complete?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.baseURL + "/?checkout=cancelled",
		Metadata: map[string]string{
			metaAccount: accountID.String(),
			metaPackage: pkg.Name,
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("account_id", accountID.String()).Str("package", pkg.Name).Str("session_id", session.ID).Msg("checkout started")
	return session, nil
}

// Complete credits the package tokens for a paid session. The session id is
// the settlement key, so repeated confirmations credit once.
func (s *Service) Complete(ctx context.Context, actor models.Actor, sessionID string) (int, bool, error) {
	accountID, ok := actor.AccountID()
	if !ok {
		return 0, false, fmt.Errorf("checkout requires an account: %w", models.ErrUnauthorized)
	}
	if strings.TrimSpace(sessionID) == "" {
		return 0, false, fmt.Errorf("%w: session_id is required", models.ErrValidation)
	}

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	if session.PaymentStatus != "paid" {
		return 0, false, fmt.Errorf("%w: status %q", models.ErrPaymentNotSettled, session.PaymentStatus)
	}
	if session.Metadata[metaAccount] != accountID.String() {
		return 0, false, fmt.Errorf("checkout belongs to another account: %w", models.ErrForbidden)
	}

	pkg, ok := packages[session.Metadata[metaPackage]]
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", models.ErrUnknownPackage, session.Metadata[metaPackage])
	}

	balance, credited, err := s.ledger.Credit(ctx, actor, pkg.Tokens, "stripe:"+session.ID)
	if err != nil {
		return 0, false, err
	}

	s.log.Info().Str("account_id", accountID.String()).Str("session_id", session.ID).Bool("credited", credited).Int("balance", balance).Msg("checkout completed")
	return balance, credited, nil
}
