// Package payments abstracts the escrow-style capture flow: a buyer's card is
// authorized when they join a pool, captured only once the pool locks, and
// released when the pool fails or is cancelled.
package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Authorization is the provider's answer to an authorize request.
type Authorization struct {
	Ref            string // provider-side reference for later capture/release
	RequiresAction bool   // buyer must complete an extra step (3DS etc.)
}

// Provider is injected at startup. There is no runtime probing: the Stripe
// implementation is wired when a key is configured, the fake otherwise.
type Provider interface {
	Authorize(ctx context.Context, amount float64, currency string) (Authorization, error)
	Capture(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
}

// FakeProvider authorizes everything in-process. Used in dev and tests.
type FakeProvider struct {
	mu       sync.Mutex
	statuses map[string]string // ref -> authorized|captured|released

	// RequireAction makes the next authorizations demand buyer action,
	// mimicking a 3DS challenge.
	RequireAction bool
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{statuses: make(map[string]string)}
}

func (p *FakeProvider) Authorize(_ context.Context, amount float64, currency string) (Authorization, error) {
	if amount <= 0 {
		return Authorization{}, fmt.Errorf("payments: non-positive amount %.2f %s", amount, currency)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := "fake_" + uuid.NewString()
	p.statuses[ref] = "authorized"
	return Authorization{Ref: ref, RequiresAction: p.RequireAction}, nil
}

func (p *FakeProvider) Capture(_ context.Context, ref string) error {
	return p.advance(ref, "authorized", "captured")
}

func (p *FakeProvider) Release(_ context.Context, ref string) error {
	return p.advance(ref, "authorized", "released")
}

func (p *FakeProvider) advance(ref, from, to string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statuses[ref] != from {
		return fmt.Errorf("payments: ref %s is %q, want %q", ref, p.statuses[ref], from)
	}
	p.statuses[ref] = to
	return nil
}

// Status reports the provider-side state of a reference (test hook).
func (p *FakeProvider) Status(ref string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[ref]
}
