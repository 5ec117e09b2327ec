package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "moqpools/internal/log"
	"moqpools/internal/repos"
	"moqpools/internal/validate"
)

type WatchlistHandler struct {
	Watch *repos.WatchlistRepo
}

func (h *WatchlistHandler) List(c *fiber.Ctx) error {
	sid := ensureSID(c)
	items, err := h.Watch.List(sid)
	if err != nil {
		applog.Error(c, "watchlist.list.fail", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load watchlist"})
	}
	return render(c, "watchlist", fiber.Map{"Items": items})
}

func (h *WatchlistHandler) Save(c *fiber.Ctx) error {
	sid := ensureSID(c)
	lid := c.FormValue("listingId")
	if _, ok := validate.ID(lid); !ok {
		return c.Status(400).SendString("missing listingId")
	}
	if err := h.Watch.Add(sid, lid); err != nil {
		applog.Error(c, "watchlist.save.fail", err, map[string]any{"listing": lid})
		return c.Status(500).SendString("Could not save listing")
	}
	// redirect back to listing or watchlist
	back := c.Get("Referer")
	if back == "" {
		back = "/watchlist"
	}
	applog.Audit(c, "watchlist.save", map[string]any{"listing": lid})
	return c.Redirect(back)
}

func (h *WatchlistHandler) Unsave(c *fiber.Ctx) error {
	sid := ensureSID(c)
	lid := c.FormValue("listingId")
	if _, ok := validate.ID(lid); !ok {
		return c.Status(400).SendString("missing listingId")
	}
	if err := h.Watch.Remove(sid, lid); err != nil {
		applog.Error(c, "watchlist.unsave.fail", err, map[string]any{"listing": lid})
		return c.Status(500).SendString("Could not remove listing")
	}
	applog.Audit(c, "watchlist.unsave", map[string]any{"listing": lid})
	return c.Redirect("/watchlist")
}
