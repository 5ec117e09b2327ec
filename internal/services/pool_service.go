package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moqpools/internal/domain"
	"moqpools/internal/events"
	applog "moqpools/internal/log"
	"moqpools/internal/mailer"
	"moqpools/internal/payments"
	"moqpools/internal/repos"
)

var (
	ErrPoolClosed    = errors.New("pool is not open for pledges")
	ErrBadTransition = errors.New("status transition not allowed")
)

// PoolService owns the pool lifecycle: pledges, payment confirmation,
// auto-lock at target, deadline sweeps and shipment updates.
type PoolService struct {
	Pools    *repos.PoolRepo
	Listings *repos.ListingRepo
	Users    *repos.UserRepo
	Alerts   *repos.AlertRepo
	Provider payments.Provider
	Events   events.Publisher
	Mail     mailer.Mailer
}

func NewPoolService(pools *repos.PoolRepo, listings *repos.ListingRepo, users *repos.UserRepo, alerts *repos.AlertRepo, provider payments.Provider, pub events.Publisher, mail mailer.Mailer) *PoolService {
	return &PoolService{
		Pools:    pools,
		Listings: listings,
		Users:    users,
		Alerts:   alerts,
		Provider: provider,
		Events:   pub,
		Mail:     mail,
	}
}

func (s *PoolService) CreatePool(listingID string, targetQty int, unitPrice float64, currency, deadline string) (domain.Pool, error) {
	l, err := s.Listings.Get(listingID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool create: listing %s: %w", listingID, err)
	}
	if targetQty < l.MOQ {
		// a pool below the supplier's MOQ could never place an order
		return domain.Pool{}, fmt.Errorf("pool create: target %d below supplier MOQ %d", targetQty, l.MOQ)
	}
	if currency == "" {
		currency = "USD"
	}
	p := domain.Pool{
		ID:        "pool-" + uuid.NewString(),
		ListingID: listingID,
		TargetQty: targetQty,
		UnitPrice: unitPrice,
		Currency:  currency,
		Deadline:  deadline,
		Status:    domain.PoolOpen,
	}
	if err := s.Pools.Create(p); err != nil {
		return domain.Pool{}, err
	}
	applog.Info(nil, "pool.create", map[string]any{"pool": p.ID, "listing": listingID, "target": targetQty})
	return p, nil
}

// JoinResult tells the checkout handler what happened: where the item and
// payment landed, and whether the buyer still owes a confirmation step.
type JoinResult struct {
	ItemID         string
	PaymentID      string
	RequiresAction bool
}

// Join pledges qty units into an OPEN pool. The card is authorized
// immediately, but pledged_qty moves only once the payment is confirmed.
func (s *PoolService) Join(ctx context.Context, poolID, sessionID, userID string, qty int, shipName, shipAddress string) (JoinResult, error) {
	pool, err := s.Pools.Get(poolID)
	if err != nil {
		return JoinResult{}, err
	}
	if pool.Status != domain.PoolOpen {
		return JoinResult{}, fmt.Errorf("%w: %s is %s", ErrPoolClosed, poolID, pool.Status)
	}

	amount := float64(qty) * pool.UnitPrice
	auth, err := s.Provider.Authorize(ctx, amount, pool.Currency)
	if err != nil {
		return JoinResult{}, fmt.Errorf("pool join: authorize: %w", err)
	}

	item := domain.PoolItem{
		ID:          "item-" + uuid.NewString(),
		PoolID:      poolID,
		SessionID:   sessionID,
		UserID:      userID,
		Qty:         qty,
		UnitPrice:   pool.UnitPrice,
		Currency:    pool.Currency,
		ShipName:    shipName,
		ShipAddress: shipAddress,
	}
	if err := s.Pools.InsertItem(item); err != nil {
		return JoinResult{}, err
	}
	pay := domain.Payment{
		ID:          "pay-" + uuid.NewString(),
		PoolItemID:  item.ID,
		ProviderRef: auth.Ref,
		Method:      "card",
		Amount:      amount,
		Currency:    pool.Currency,
		Status:      domain.PayRequiresAction,
	}
	if err := s.Pools.InsertPayment(pay); err != nil {
		return JoinResult{}, err
	}
	applog.Audit(nil, "pool.join", map[string]any{
		"pool": poolID, "item": item.ID, "qty": qty, "requires_action": auth.RequiresAction,
	})

	if auth.RequiresAction {
		return JoinResult{ItemID: item.ID, PaymentID: pay.ID, RequiresAction: true}, nil
	}
	if err := s.ConfirmPayment(ctx, pay.ID); err != nil {
		return JoinResult{}, err
	}
	return JoinResult{ItemID: item.ID, PaymentID: pay.ID}, nil
}

// ConfirmPayment moves a payment to AUTHORIZED and applies its pledge. The
// guarded status update makes the increment happen at most once per payment,
// no matter how many times a buyer replays the confirmation.
func (s *PoolService) ConfirmPayment(ctx context.Context, paymentID string) error {
	pay, err := s.Pools.GetPayment(paymentID)
	if err != nil {
		return err
	}
	item, err := s.Pools.GetItem(pay.PoolItemID)
	if err != nil {
		return err
	}
	pool, err := s.Pools.Get(item.PoolID)
	if err != nil {
		return err
	}

	if err := s.Pools.UpdatePaymentStatus(paymentID, domain.PayRequiresAction, domain.PayAuthorized); err != nil {
		return err
	}
	if err := s.Pools.IncrementPledged(pool.ID, item.Qty); err != nil {
		if !errors.Is(err, repos.ErrStaleStatus) {
			// transient failure: keep the hold and re-open the confirm window
			// so a retry runs the increment again
			if upErr := s.Pools.UpdatePaymentStatus(paymentID, domain.PayAuthorized, domain.PayRequiresAction); upErr != nil {
				applog.Error(nil, "payment.reopen", upErr, map[string]any{"payment": paymentID})
			}
			return err
		}
		// the pool closed between authorize and confirm: hand the money back
		if relErr := s.Provider.Release(ctx, pay.ProviderRef); relErr != nil {
			applog.Error(nil, "payment.release", relErr, map[string]any{"payment": paymentID})
		}
		if upErr := s.Pools.UpdatePaymentStatus(paymentID, domain.PayAuthorized, domain.PayReleased); upErr != nil {
			applog.Error(nil, "payment.mark_released", upErr, map[string]any{"payment": paymentID})
		}
		return fmt.Errorf("%w: %s", ErrPoolClosed, pool.ID)
	}
	applog.Audit(nil, "payment.confirm", map[string]any{"payment": paymentID, "pool": pool.ID, "qty": item.Qty})

	before, after := pool.PledgedQty, pool.PledgedQty+item.Qty
	s.milestones(ctx, pool, before, after)
	if after >= pool.TargetQty {
		if err := s.lock(ctx, pool.ID); err != nil && !errors.Is(err, repos.ErrStaleStatus) {
			return err
		}
	}
	return nil
}

// milestones fires half/full notifications exactly when a boundary is crossed.
func (s *PoolService) milestones(ctx context.Context, pool domain.Pool, before, after int) {
	half := pool.TargetQty / 2
	if half > 0 && before < half && after >= half && after < pool.TargetQty {
		s.publish(ctx, events.PoolEvent{
			PoolID: pool.ID, Kind: "milestone.half",
			PledgedQty: after, TargetQty: pool.TargetQty, At: time.Now().UTC(),
		})
		s.notifyBuyers(pool.ID, func(email, title string) error {
			return s.Mail.SendPoolMilestone(email, title, after, pool.TargetQty)
		})
	}
	if before < pool.TargetQty && after >= pool.TargetQty {
		s.publish(ctx, events.PoolEvent{
			PoolID: pool.ID, Kind: "milestone.full",
			PledgedQty: after, TargetQty: pool.TargetQty, At: time.Now().UTC(),
		})
	}
}

// lock moves a pool OPEN->LOCKED and captures every authorized payment.
// A capture failure is alerted for the back office, not retried inline.
func (s *PoolService) lock(ctx context.Context, poolID string) error {
	if err := s.Pools.UpdateStatus(poolID, domain.PoolOpen, domain.PoolLocked); err != nil {
		return err
	}
	pays, err := s.Pools.PaymentsByPool(poolID)
	if err != nil {
		return err
	}
	for _, p := range pays {
		if p.Status != domain.PayAuthorized {
			continue
		}
		if err := s.Provider.Capture(ctx, p.ProviderRef); err != nil {
			applog.Error(nil, "payment.capture", err, map[string]any{"payment": p.ID, "pool": poolID})
			if aerr := s.Alerts.Raise("CAPTURE_FAILED", poolID, fmt.Sprintf("payment %s: %v", p.ID, err)); aerr != nil {
				applog.Error(nil, "alert.raise", aerr, nil)
			}
			continue
		}
		if err := s.Pools.UpdatePaymentStatus(p.ID, domain.PayAuthorized, domain.PayCaptured); err != nil {
			applog.Error(nil, "payment.mark_captured", err, map[string]any{"payment": p.ID})
		}
	}
	pool, err := s.Pools.Get(poolID)
	if err != nil {
		return err
	}
	s.publish(ctx, events.PoolEvent{
		PoolID: poolID, Kind: "status.changed", Status: domain.PoolLocked,
		PledgedQty: pool.PledgedQty, TargetQty: pool.TargetQty, At: time.Now().UTC(),
	})
	s.notifyBuyers(poolID, func(email, title string) error {
		return s.Mail.SendPoolLocked(email, title)
	})
	applog.Audit(nil, "pool.lock", map[string]any{"pool": poolID, "pledged": pool.PledgedQty})
	return nil
}

// Cancel aborts an OPEN or LOCKED pool and hands authorized money back.
// Captured payments need a manual refund; those raise an alert instead.
func (s *PoolService) Cancel(ctx context.Context, poolID string) error {
	pool, err := s.Pools.Get(poolID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(pool.Status, domain.PoolCancelled) {
		return fmt.Errorf("%w: %s -> CANCELLED", ErrBadTransition, pool.Status)
	}
	if err := s.Pools.UpdateStatus(poolID, pool.Status, domain.PoolCancelled); err != nil {
		return err
	}
	s.releasePayments(ctx, poolID)
	s.publish(ctx, events.PoolEvent{
		PoolID: poolID, Kind: "status.changed", Status: domain.PoolCancelled,
		PledgedQty: pool.PledgedQty, TargetQty: pool.TargetQty, At: time.Now().UTC(),
	})
	s.notifyBuyers(poolID, func(email, title string) error {
		return s.Mail.SendPoolFailed(email, title)
	})
	applog.Audit(nil, "pool.cancel", map[string]any{"pool": poolID})
	return nil
}

// AdvanceStatus moves a pool along the fulfilment chain (admin operation).
func (s *PoolService) AdvanceStatus(ctx context.Context, poolID, to string) error {
	pool, err := s.Pools.Get(poolID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(pool.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, pool.Status, to)
	}
	if err := s.Pools.UpdateStatus(poolID, pool.Status, to); err != nil {
		return err
	}
	if to == domain.PoolFailed {
		s.releasePayments(ctx, poolID)
	}
	s.publish(ctx, events.PoolEvent{
		PoolID: poolID, Kind: "status.changed", Status: to,
		PledgedQty: pool.PledgedQty, TargetQty: pool.TargetQty, At: time.Now().UTC(),
	})
	applog.Audit(nil, "pool.status", map[string]any{"pool": poolID, "from": pool.Status, "to": to})
	return nil
}

// SweepDeadlines fails every OPEN pool whose deadline passed without hitting
// target, releasing the held authorizations. Called from a background loop.
func (s *PoolService) SweepDeadlines(ctx context.Context) (int, error) {
	pools, err := s.Pools.OpenPastDeadline()
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, p := range pools {
		if err := s.Pools.UpdateStatus(p.ID, domain.PoolOpen, domain.PoolFailed); err != nil {
			if !errors.Is(err, repos.ErrStaleStatus) {
				applog.Error(nil, "pool.sweep", err, map[string]any{"pool": p.ID})
			}
			continue
		}
		failed++
		s.releasePayments(ctx, p.ID)
		s.publish(ctx, events.PoolEvent{
			PoolID: p.ID, Kind: "status.changed", Status: domain.PoolFailed,
			PledgedQty: p.PledgedQty, TargetQty: p.TargetQty, At: time.Now().UTC(),
		})
		s.notifyBuyers(p.ID, func(email, title string) error {
			return s.Mail.SendPoolFailed(email, title)
		})
	}
	if failed > 0 {
		applog.Info(nil, "pool.sweep", map[string]any{"failed": failed})
	}
	return failed, nil
}

func (s *PoolService) releasePayments(ctx context.Context, poolID string) {
	pays, err := s.Pools.PaymentsByPool(poolID)
	if err != nil {
		applog.Error(nil, "payment.release_all", err, map[string]any{"pool": poolID})
		return
	}
	for _, p := range pays {
		switch p.Status {
		case domain.PayAuthorized, domain.PayRequiresAction:
			if err := s.Provider.Release(ctx, p.ProviderRef); err != nil {
				applog.Error(nil, "payment.release", err, map[string]any{"payment": p.ID})
				continue
			}
			if err := s.Pools.UpdatePaymentStatus(p.ID, p.Status, domain.PayReleased); err != nil {
				applog.Error(nil, "payment.mark_released", err, map[string]any{"payment": p.ID})
			}
		case domain.PayCaptured:
			if err := s.Alerts.Raise("REFUND_NEEDED", poolID, fmt.Sprintf("payment %s captured before pool closed", p.ID)); err != nil {
				applog.Error(nil, "alert.raise", err, nil)
			}
		}
	}
}

func (s *PoolService) publish(ctx context.Context, evt events.PoolEvent) {
	if err := s.Events.PublishPoolEvent(ctx, evt); err != nil {
		applog.Error(nil, "events.publish", err, map[string]any{"pool": evt.PoolID, "kind": evt.Kind})
	}
}

// notifyBuyers mails every registered buyer in a pool once. Guest pledges
// have no account email and are skipped.
func (s *PoolService) notifyBuyers(poolID string, send func(email, title string) error) {
	view, err := s.Pools.View(poolID)
	if err != nil {
		applog.Error(nil, "pool.notify", err, map[string]any{"pool": poolID})
		return
	}
	items, err := s.Pools.ItemsByPool(poolID)
	if err != nil {
		applog.Error(nil, "pool.notify", err, map[string]any{"pool": poolID})
		return
	}
	seen := make(map[string]bool)
	for _, it := range items {
		if it.UserID == "" || seen[it.UserID] {
			continue
		}
		seen[it.UserID] = true
		u, err := s.Users.ByID(it.UserID)
		if err != nil || u == nil {
			continue
		}
		if err := send(u.Email, view.ListingTitle); err != nil {
			applog.Error(nil, "mail.send", err, map[string]any{"pool": poolID, "user": it.UserID})
		}
	}
}

// AddShipmentEvent appends a tracking update for a pool's group order.
func (s *PoolService) AddShipmentEvent(poolID, status, note string) (domain.ShipmentEvent, error) {
	if _, err := s.Pools.Get(poolID); err != nil {
		return domain.ShipmentEvent{}, err
	}
	e := domain.ShipmentEvent{
		ID:     "ship-" + uuid.NewString(),
		PoolID: poolID,
		Status: status,
		Note:   note,
	}
	if err := s.Pools.InsertShipmentEvent(e); err != nil {
		return domain.ShipmentEvent{}, err
	}
	applog.Audit(nil, "pool.shipment", map[string]any{"pool": poolID, "status": status})
	return e, nil
}
