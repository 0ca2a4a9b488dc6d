package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeService creates and retrieves Checkout Sessions.
type StripeService struct {
	api *client.API
	log zerolog.Logger
}

// NewStripeService uses the default Stripe backends.
func NewStripeService(secretKey string, log zerolog.Logger) *StripeService {
	return NewStripeServiceWithBackends(secretKey, nil, log)
}

// NewStripeServiceWithBackends points the client at custom backends; nil
// selects the defaults.
func NewStripeServiceWithBackends(secretKey string, backends *stripe.Backends, log zerolog.Logger) *StripeService {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeService{api: api, log: log}
}

// CheckoutParams describes a one-off payment for a named product.
type CheckoutParams struct {
	ProductName string
	AmountCents int
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession is the subset of a Stripe Checkout Session the app reads.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	currency := p.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(int64(p.AmountCents)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ProductName),
					},
				},
			},
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if cs.ID == "" || cs.URL == "" {
		return nil, fmt.Errorf("stripe returned an incomplete checkout session")
	}

	s.log.Info().Str("session_id", cs.ID).Int("amount", p.AmountCents).Msg("checkout session created")
	return toCheckoutSession(cs), nil
}

func (s *StripeService) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return toCheckoutSession(cs), nil
}

func toCheckoutSession(cs *stripe.CheckoutSession) *CheckoutSession {
	return &CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
	}
}
