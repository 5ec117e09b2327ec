package payments

import (
	"context"
	"fmt"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider holds funds with manual-capture PaymentIntents.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(apiKey string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Authorize(ctx context.Context, amount float64, currency string) (Authorization, error) {
	if amount <= 0 {
		return Authorization{}, fmt.Errorf("payments: non-positive amount %.2f %s", amount, currency)
	}
	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(toMinorUnits(amount)),
		Currency:           stripe.String(strings.ToLower(currency)),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Authorization{}, fmt.Errorf("payments: authorize: %w", err)
	}
	return Authorization{
		Ref:            pi.ID,
		RequiresAction: pi.Status == stripe.PaymentIntentStatusRequiresAction,
	}, nil
}

func (p *StripeProvider) Capture(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCaptureParams{Params: stripe.Params{Context: ctx}}
	if _, err := p.api.PaymentIntents.Capture(ref, params); err != nil {
		return fmt.Errorf("payments: capture %s: %w", ref, err)
	}
	return nil
}

func (p *StripeProvider) Release(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}
	if _, err := p.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("payments: release %s: %w", ref, err)
	}
	return nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
