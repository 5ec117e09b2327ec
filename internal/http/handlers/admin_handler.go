package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
	"moqpools/internal/repos"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
	"moqpools/internal/validate"
)

type AdminHandler struct {
	Pool   *services.PoolService
	Ingest *services.IngestService
	Repo   *repos.PoolRepo
	Alerts *repos.AlertRepo
	Users  *repos.UserRepo
	Snaps  snapshot.Cache
}

// GET /admin
func (h *AdminHandler) Dashboard(c *fiber.Ctx) error {
	alerts, err := h.Alerts.ListOpen(50)
	if err != nil {
		applog.Error(c, "admin.alerts.list.fail", err, nil)
	}
	pools, err := h.Repo.ListLatest(25)
	if err != nil {
		applog.Error(c, "admin.pools.list.fail", err, nil)
	}
	return render(c, "admin_dashboard", fiber.Map{
		"Alerts": alerts, "Pools": pools, "Snapshots": h.Snaps.Len(),
	})
}

// GET /admin/pools
func (h *AdminHandler) PoolsPage(c *fiber.Ctx) error {
	pools, err := h.Repo.ListLatest(100)
	if err != nil {
		applog.Error(c, "admin.pools.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load pools"})
	}
	return render(c, "admin_pools", fiber.Map{"Pools": pools})
}

// POST /admin/pools
func (h *AdminHandler) CreatePool(c *fiber.Ctx) error {
	listingID, ok := validate.ID(c.FormValue("listing_id"))
	if !ok {
		return c.Status(400).SendString("missing listing_id")
	}
	target, ok := validate.Qty(c.FormValue("target_qty"))
	if !ok {
		return c.Status(400).SendString("invalid target_qty")
	}
	price, err := strconv.ParseFloat(c.FormValue("unit_price"), 64)
	if err != nil || price <= 0 {
		return c.Status(400).SendString("invalid unit_price")
	}
	currency := strings.ToUpper(strings.TrimSpace(c.FormValue("currency")))
	deadline := strings.TrimSpace(c.FormValue("deadline"))
	if deadline == "" {
		return c.Status(400).SendString("missing deadline")
	}

	p, err := h.Pool.CreatePool(listingID, target, price, currency, deadline)
	if err != nil {
		applog.Error(c, "admin.pools.create.fail", err, map[string]any{"listing": listingID})
		return c.Status(400).SendString("could not create pool")
	}
	applog.Audit(c, "admin.pools.create", map[string]any{"pool": p.ID, "listing": listingID, "target": target})
	return c.Redirect("/admin/pools")
}

// POST /admin/pools/:id/status
func (h *AdminHandler) UpdatePoolStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	status := c.FormValue("status")
	if id == "" || status == "" {
		return c.Status(400).SendString("missing id or status")
	}
	if err := h.Pool.AdvanceStatus(c.Context(), id, status); err != nil {
		applog.Error(c, "admin.pools.status.fail", err, map[string]any{"pool": id, "status": status})
		return c.Status(400).SendString("could not update status")
	}
	applog.Audit(c, "admin.pools.status", map[string]any{"pool": id, "status": status})
	return c.Redirect("/admin/pools")
}

// POST /admin/pools/:id/cancel
func (h *AdminHandler) CancelPool(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(400).SendString("missing id")
	}
	if err := h.Pool.Cancel(c.Context(), id); err != nil {
		applog.Error(c, "admin.pools.cancel.fail", err, map[string]any{"pool": id})
		return c.Status(400).SendString("could not cancel pool")
	}
	applog.Audit(c, "admin.pools.cancel", map[string]any{"pool": id})
	return c.Redirect("/admin/pools")
}

// POST /admin/pools/:id/shipment
func (h *AdminHandler) AddShipment(c *fiber.Ctx) error {
	id := c.Params("id")
	status := strings.TrimSpace(c.FormValue("status"))
	note := strings.TrimSpace(c.FormValue("note"))
	if id == "" || status == "" {
		return c.Status(400).SendString("missing id or status")
	}
	if _, err := h.Pool.AddShipmentEvent(id, status, note); err != nil {
		applog.Error(c, "admin.shipment.fail", err, map[string]any{"pool": id})
		return c.Status(400).SendString("could not record shipment event")
	}
	applog.Audit(c, "admin.shipment", map[string]any{"pool": id, "status": status})
	return c.Redirect("/admin/pools")
}

// POST /admin/ingest runs a sourcing scrape for a query. Platforms come as a
// comma-separated list; empty means all sources.
func (h *AdminHandler) RunIngest(c *fiber.Ctx) error {
	q, ok := validate.Q(c.FormValue("q"))
	if !ok {
		return c.Status(400).SendString("invalid query")
	}
	var platforms []domain.Platform
	for _, p := range strings.Split(c.FormValue("platforms"), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !domain.ValidPlatform(p) {
			return c.Status(400).SendString("unknown platform " + p)
		}
		platforms = append(platforms, domain.Platform(p))
	}
	var tags []string
	for _, t := range strings.Split(c.FormValue("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	report, err := h.Ingest.Run(c.Context(), q, platforms, tags)
	if err != nil {
		applog.Error(c, "admin.ingest.fail", err, map[string]any{"q": q})
		return c.Status(502).Render("admin_ingest", fiber.Map{
			"Q": q, "Err": "Ingest failed: no source reachable", "Report": report,
		})
	}
	applog.Audit(c, "admin.ingest", map[string]any{
		"q": q, "found": report.Found, "persisted": report.Persisted,
	})
	return render(c, "admin_ingest", fiber.Map{"Q": q, "Report": report})
}

// GET /admin/ingest
func (h *AdminHandler) IngestForm(c *fiber.Ctx) error {
	return render(c, "admin_ingest", fiber.Map{})
}

// POST /admin/alerts/:id/resolve
func (h *AdminHandler) ResolveAlert(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(400).SendString("missing id")
	}
	if err := h.Alerts.Resolve(id); err != nil {
		applog.Error(c, "admin.alerts.resolve.fail", err, map[string]any{"alert": id})
		return c.Status(400).SendString("could not resolve alert")
	}
	applog.Audit(c, "admin.alerts.resolve", map[string]any{"alert": id})
	return c.Redirect("/admin")
}

// UsersPage lists users (excluding admin).
func (h *AdminHandler) UsersPage(c *fiber.Ctx) error {
	var users []struct {
		ID    string `db:"id"`
		Email string `db:"email"`
		Name  string `db:"name"`
		Role  string `db:"role"`
	}
	if err := h.Users.DB.Select(&users, `SELECT id,email,name,role FROM users WHERE role != 'ADMIN' ORDER BY email`); err != nil {
		applog.Error(c, "admin.users.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load users"})
	}
	return render(c, "admin_users", fiber.Map{"Users": users})
}

// DeleteUser deletes a user and related data, keeping their pledges for audit.
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(400).SendString("missing id")
	}
	if err := h.Users.DeleteUserCascade(id); err != nil {
		applog.Error(c, "admin.users.delete.fail", err, map[string]any{"user_id": id})
		return c.Status(400).SendString("could not delete user")
	}
	applog.Audit(c, "admin.users.delete", map[string]any{"user_id": id})
	return c.Redirect("/admin/users")
}
