package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
	"moqpools/internal/repos"
	"moqpools/internal/services"
	"moqpools/internal/validate"
)

type PoolHandler struct {
	Pool *services.PoolService
	Repo *repos.PoolRepo
	Auth *services.AuthService
}

// Detail renders one pool with its progress and shipment trail.
func (h *PoolHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Pool not found"})
	}
	v, err := h.Repo.View(id)
	if err != nil {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Pool not found"})
	}
	events, err := h.Repo.ShipmentEvents(id)
	if err != nil {
		applog.Error(c, "pool.shipments", err, map[string]any{"pool": id})
	}
	return render(c, "pool", fiber.Map{"Pool": v, "Shipments": events})
}

// Progress is the JSON endpoint pool pages poll to refresh the pledge bar.
func (h *PoolHandler) Progress(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid pool id",
		})
	}
	p, err := h.Repo.Get(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "pool not found",
		})
	}
	return c.JSON(fiber.Map{
		"poolId":     p.ID,
		"status":     p.Status,
		"pledgedQty": p.PledgedQty,
		"targetQty":  p.TargetQty,
		"deadline":   p.Deadline,
	})
}

// JoinForm is the checkout page for pledging into a pool.
func (h *PoolHandler) JoinForm(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Pool not found"})
	}
	v, err := h.Repo.View(id)
	if err != nil {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Pool not found"})
	}
	if v.Status != domain.PoolOpen {
		return c.Status(409).Render("pool", fiber.Map{"Pool": v, "Err": "This pool is no longer accepting pledges"})
	}
	return render(c, "checkout", fiber.Map{"Pool": v})
}

// Join places a pledge: authorizes the payment and either confirms it inline
// or sends the buyer to the confirmation step.
func (h *PoolHandler) Join(c *fiber.Ctx) error {
	sid := ensureSID(c)
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Pool not found"})
	}
	qty, ok := validate.Qty(c.FormValue("qty"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "qty"})
		return c.Status(fiber.StatusBadRequest).SendString("invalid quantity")
	}
	name, ok := validate.Name(c.FormValue("ship_name"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "ship_name"})
		return c.Status(fiber.StatusBadRequest).SendString("name must be 1-40 characters")
	}
	address, ok := validate.Address(c.FormValue("ship_address"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "ship_address"})
		return c.Status(fiber.StatusBadRequest).SendString("invalid shipping address")
	}

	var userID string
	if u, _ := c.Locals("user").(*domain.User); u != nil {
		userID = u.ID
	}

	res, err := h.Pool.Join(c.Context(), id, sid, userID, qty, name, address)
	if err != nil {
		if errors.Is(err, services.ErrPoolClosed) {
			return c.Status(fiber.StatusConflict).SendString("This pool is no longer accepting pledges")
		}
		applog.Error(c, "pool.join.fail", err, map[string]any{"pool": id})
		return c.Status(fiber.StatusBadRequest).SendString("Could not place your pledge. Please try again.")
	}
	applog.Audit(c, "pool.join", map[string]any{"pool": id, "item": res.ItemID, "qty": qty})

	if res.RequiresAction {
		return c.Redirect("/payments/" + res.PaymentID)
	}
	return c.Redirect("/orders/" + res.ItemID)
}

// PaymentForm shows the extra confirmation step for challenged payments.
func (h *PoolHandler) PaymentForm(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Payment not found"})
	}
	pay, err := h.Repo.GetPayment(id)
	if err != nil {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Payment not found"})
	}
	return render(c, "payment", fiber.Map{"Payment": pay})
}

// ConfirmPayment completes a challenged payment and applies the pledge.
// Replays are idempotent: the guarded status update makes a second submit
// a no-op at the pool counter.
func (h *PoolHandler) ConfirmPayment(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Payment not found"})
	}
	pay, err := h.Repo.GetPayment(id)
	if err != nil {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Payment not found"})
	}
	if err := h.Pool.ConfirmPayment(c.Context(), id); err != nil {
		if errors.Is(err, repos.ErrStaleStatus) {
			// already confirmed; show the order rather than an error
			return c.Redirect("/orders/" + pay.PoolItemID)
		}
		if errors.Is(err, services.ErrPoolClosed) {
			return c.Status(fiber.StatusConflict).SendString("The pool closed before your payment completed; the hold was released.")
		}
		applog.Error(c, "payment.confirm.fail", err, map[string]any{"payment": id})
		return c.Status(fiber.StatusBadRequest).SendString("Could not confirm payment")
	}
	return c.Redirect("/orders/" + pay.PoolItemID)
}

// Orders lists the buyer's pledges (session first, account history when logged in).
func (h *PoolHandler) Orders(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var items []repos.ItemView
	var err error
	if u, _ := c.Locals("user").(*domain.User); u != nil {
		items, err = h.Repo.ItemsByUser(u.ID)
	}
	if err == nil && len(items) == 0 {
		items, err = h.Repo.ItemsBySession(sid)
	}
	if err != nil {
		applog.Error(c, "orders.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load your orders"})
	}
	return render(c, "orders", fiber.Map{"Items": items})
}

// OrderView shows one pledge with its payment state and pool progress.
// Only the owning session/user or an admin may see it.
func (h *PoolHandler) OrderView(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Order not found"})
	}
	v, err := h.Repo.ItemView(id)
	if err != nil {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Order not found"})
	}

	sid := c.Cookies("sid")
	var uID, uRole string
	if h.Auth != nil && sid != "" {
		if u, err := h.Auth.CurrentUser(sid); err == nil && u != nil {
			uID = u.ID
			uRole = u.Role
		}
	}
	owned := (sid != "" && sid == v.SessionID) || (uID != "" && uID == v.UserID)
	if !owned && uRole != "ADMIN" {
		applog.Security(c, "access.denied.order", map[string]any{"item": id})
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Order not found"})
	}

	shipments, err := h.Repo.ShipmentEvents(v.PoolID)
	if err != nil {
		applog.Error(c, "order.shipments", err, map[string]any{"pool": v.PoolID})
	}
	return render(c, "order", fiber.Map{"Item": v, "Shipments": shipments})
}
