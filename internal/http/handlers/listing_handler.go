package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"moqpools/internal/log"
	"moqpools/internal/repos"
	"moqpools/internal/services"
	"moqpools/internal/validate"
)

type ListingHandler struct {
	Catalog *services.CatalogService
	Pools   *repos.PoolRepo
}

// Home shows the latest pools alongside recently scraped listings.
func (h *ListingHandler) Home(c *fiber.Ctx) error {
	pools, err := h.Pools.ListByStatus("OPEN", 12)
	if err != nil {
		log.Error(c, "home.pools", err, nil)
	}
	recent, err := h.Catalog.Recent(12)
	if err != nil {
		log.Error(c, "home.recent", err, nil)
	}
	return render(c, "home", fiber.Map{"Pools": pools, "Recent": recent})
}

// Browse is the catalogue search page over persisted listings.
func (h *ListingHandler) Browse(c *fiber.Ctx) error {
	rawQ := c.Query("q")
	if strings.TrimSpace(rawQ) == "" {
		recent, _ := h.Catalog.Recent(24)
		return render(c, "listings", fiber.Map{"Q": "", "Listings": recent, "Count": len(recent)})
	}
	q, ok := validate.Q(rawQ)
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "q", "value": rawQ})
		return c.Status(fiber.StatusBadRequest).Render("listings", fiber.Map{
			"Q": "", "Listings": []any{}, "Count": 0, "Err": "Enter a valid keyword (letters/numbers only)",
		})
	}
	platform, ok := validate.PlatformFilter(c.Query("platform"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "platform"})
		return c.Status(fiber.StatusBadRequest).Render("listings", fiber.Map{
			"Q": q, "Listings": []any{}, "Count": 0, "Err": "Invalid source filter",
		})
	}
	tag := strings.TrimSpace(c.Query("tag"))
	if tag != "" {
		if _, ok := validate.ID(tag); !ok {
			log.Security(c, "validation.fail", map[string]any{"field": "tag"})
			return c.Status(fiber.StatusBadRequest).Render("listings", fiber.Map{
				"Q": q, "Listings": []any{}, "Count": 0, "Err": "Invalid tag",
			})
		}
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))

	listings, err := h.Catalog.Search(c.Context(), q, platform, tag, page, 24)
	if err != nil {
		log.Error(c, "listings.search", err, nil)
		return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load results. Please retry."})
	}
	return render(c, "listings", fiber.Map{
		"Q": q, "Platform": platform, "Tag": tag, "Page": page,
		"Listings": listings, "Count": len(listings),
	})
}

// Detail shows one listing and the pools forming around it.
func (h *ListingHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "listing"})
		return c.Status(404).Render("notfound", fiber.Map{"Message": "This listing is no longer available"})
	}
	l, err := h.Catalog.Get(id)
	if err != nil || l.ID == "" {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "This listing is no longer available"})
	}
	pools, err := h.Pools.ByListing(id)
	if err != nil {
		log.Error(c, "listing.pools", err, map[string]any{"listing": id})
	}
	return render(c, "listing", fiber.Map{"L": l, "Pools": pools})
}
