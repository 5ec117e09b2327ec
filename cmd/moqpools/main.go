package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"

	"moqpools/internal/config"
	"moqpools/internal/events"
	"moqpools/internal/http/handlers"
	"moqpools/internal/imagecache"
	applog "moqpools/internal/log"
	"moqpools/internal/mailer"
	"moqpools/internal/payments"
	"moqpools/internal/repos"
	"moqpools/internal/scrape"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			mw := io.MultiWriter(os.Stdout, f)
			log.SetOutput(mw)
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	// Auth wiring
	userRepo := repos.NewUserRepo(db)
	authSvc := &services.AuthService{Users: userRepo}
	authH := &handlers.AuthHandler{Auth: authSvc}

	// ---------- Capability wiring ----------
	var browser scrape.BrowserAutomation = scrape.NoopBrowser{}
	if cfg.BrowserEnabled {
		browser = &scrape.ChromeBrowser{
			Proxy:      cfg.ScrapeProxy,
			Cookies:    cfg.ScrapeCookies,
			NavTimeout: cfg.NavTimeout,
		}
	}
	scraper := scrape.NewScraper(browser, cfg.BrowserThreshold)

	images, err := imagecache.New(imagecache.Options{
		Dir:          cfg.CacheDir,
		AllowedHosts: scrape.ImageHosts(),
		Placeholders: scrape.ImagePlaceholders(),
		HeadersFor:   scrape.ImageHeaders,
		Transcoder:   imagecache.ImagingTranscoder{},
	})
	if err != nil {
		log.Fatal(err)
	}

	var snapshots snapshot.Cache
	if cfg.RedisAddr != "" {
		rc, err := snapshot.NewRedisCache(cfg.RedisAddr, cfg.SnapshotTTL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		snapshots = rc
	} else {
		snapshots = snapshot.NewMemoryCache(cfg.SnapshotTTL, nil)
	}

	var provider payments.Provider = payments.NewFakeProvider()
	if cfg.StripeKey != "" {
		provider = payments.NewStripeProvider(cfg.StripeKey)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Printf("[warn] nats unavailable, events disabled: %v", err)
		} else {
			defer np.Close()
			publisher = np
		}
	}

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.SMTPHost != "" {
		mail = mailer.SMTPMailer{Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: cfg.SMTPFrom, Pass: cfg.SMTPPass}
	}

	// Templates & app
	engine := html.New("./web/templates", ".html")
	engine.Reload(true)

	app := fiber.New(fiber.Config{
		Views: engine,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Log and show a friendly message
			applog.Error(c, "server.error", err, nil)
			// Avoid leaking internals; best-effort render
			if rerr := c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{
				"Message": "Something went wrong. Please try again.",
			}); rerr != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong. Please try again.")
			}
			return nil
		},
	})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	// Attach user to context if logged in (for templates/headers)
	app.Use(func(c *fiber.Ctx) error {
		if sid := c.Cookies("sid"); sid != "" {
			if u, err := authSvc.CurrentUser(sid); err == nil && u != nil {
				c.Locals("user", u)
			}
		}
		return c.Next()
	})
	app.Use(limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := string(c.Request().URI().Path())
			return strings.HasPrefix(p, "/static/") || strings.HasPrefix(p, "/cache/")
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   false, // set true behind HTTPS
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			formTok := c.FormValue("csrf")
			applog.Security(c, "csrf.fail", map[string]any{"form": formTok})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		if tok := c.Locals("csrf"); tok != nil {
			c.Locals("CSRFToken", tok.(string))
		}
		return c.Next()
	})

	// ---------- Static assets ----------
	cacheDir := images.Dir()
	if !filepath.IsAbs(cacheDir) {
		if abs, err := filepath.Abs(cacheDir); err == nil {
			cacheDir = abs
		}
	}
	log.Printf("[static] /static -> ./web/static")
	log.Printf("[static] /cache  -> %s", cacheDir)

	app.Static("/static", "./web/static")
	// Guarded cache serving to avoid traversal
	app.Get("/cache/*", func(c *fiber.Ctx) error {
		path := c.Params("*")
		rawLower := strings.ToLower(path)
		// Block encoded traversal attempts as well as raw .. or null bytes
		if strings.Contains(rawLower, "..") || strings.Contains(rawLower, "%2e") || strings.Contains(rawLower, "\x00") {
			applog.Security(c, "cache.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		clean := filepath.Clean(path)
		if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			applog.Security(c, "cache.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		full := filepath.Join(cacheDir, clean)
		return c.SendFile(full, true)
	})

	// ---------- App handlers ----------
	deps := handlers.NewDeps(db, cfg, authSvc, handlers.Capabilities{
		Scraper:   scraper,
		Images:    images,
		Snapshots: snapshots,
		Provider:  provider,
		Events:    publisher,
		Mail:      mail,
	})

	// Public pages
	app.Get("/", deps.ListingHandler.Home)
	app.Get("/listings", limiter.New(limiter.Config{Max: 20, Expiration: time.Minute}), deps.ListingHandler.Browse)
	app.Get("/listing/:id", deps.ListingHandler.Detail)

	// Pools & pledges
	app.Get("/pool/:id", deps.PoolHandler.Detail)
	app.Get("/pool/:id/join", deps.PoolHandler.JoinForm)
	app.Post("/pool/:id/join", deps.PoolHandler.Join)
	app.Get("/payments/:id", deps.PoolHandler.PaymentForm)
	app.Post("/payments/:id/confirm", deps.PoolHandler.ConfirmPayment)
	app.Get("/orders", deps.PoolHandler.Orders)
	app.Get("/orders/:id", deps.PoolHandler.OrderView)

	// JSON API (pool pages poll progress)
	api := app.Group("/api/v1")
	api.Get("/pools/:id/progress", limiter.New(limiter.Config{Max: 30, Expiration: time.Minute}), deps.PoolHandler.Progress)

	// Watchlist
	app.Get("/watchlist", deps.WatchlistHandler.List)
	app.Post("/watchlist", deps.WatchlistHandler.Save)
	app.Post("/watchlist/delete", deps.WatchlistHandler.Unsave)

	// Messaging (account required)
	msgs := app.Group("/messages", handlers.RequireUser(authSvc))
	msgs.Get("/", deps.MessageHandler.List)
	msgs.Post("/", deps.MessageHandler.Open)
	msgs.Get("/:id", deps.MessageHandler.Thread)
	msgs.Post("/:id", deps.MessageHandler.Reply)

	// Auth routes (login throttled)
	app.Get("/login", authH.LoginForm)
	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("login", fiber.Map{"Err": "Too many attempts. Please try again later."})
		},
	}), authH.Login)
	app.Post("/logout", authH.Logout)

	// Admin
	admin := app.Group("/admin", handlers.RequireAdmin(authSvc))
	admin.Get("/", deps.AdminHandler.Dashboard)
	admin.Get("/pools", deps.AdminHandler.PoolsPage)
	admin.Post("/pools", deps.AdminHandler.CreatePool)
	admin.Post("/pools/:id/status", deps.AdminHandler.UpdatePoolStatus)
	admin.Post("/pools/:id/cancel", deps.AdminHandler.CancelPool)
	admin.Post("/pools/:id/shipment", deps.AdminHandler.AddShipment)
	admin.Get("/ingest", deps.AdminHandler.IngestForm)
	admin.Post("/ingest", deps.AdminHandler.RunIngest)
	admin.Post("/alerts/:id/resolve", deps.AdminHandler.ResolveAlert)
	admin.Get("/users", deps.AdminHandler.UsersPage)
	admin.Post("/users/:id/delete", deps.AdminHandler.DeleteUser)

	// Health & 404
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).Render("notfound", fiber.Map{"Message": "Page not found"})
	})

	// Expired OPEN pools are failed and their holds released on a timer.
	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for range tick.C {
			if _, err := deps.PoolSvc.SweepDeadlines(context.Background()); err != nil {
				applog.Error(nil, "pool.sweep.fail", err, nil)
			}
		}
	}()

	log.Fatal(app.Listen(":" + cfg.Port))
}
