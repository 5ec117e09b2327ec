package handlers_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"

	"moqpools/internal/config"
	"moqpools/internal/events"
	"moqpools/internal/http/handlers"
	"moqpools/internal/mailer"
	"moqpools/internal/payments"
	"moqpools/internal/repos"
	"moqpools/internal/scrape"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
)

// Helper: minimal app for joining a pool and viewing the resulting order
func newJoinApp(t *testing.T) (*fiber.App, *sqlx.DB, *repos.PoolRepo) {
	t.Helper()
	cfg := config.Config{DBDSN: ":memory:"}
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	userRepo := repos.NewUserRepo(db)
	authSvc := &services.AuthService{Users: userRepo}
	authH := &handlers.AuthHandler{Auth: authSvc}

	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine})
	app.Server().MaxRequestBodySize = 1 << 20
	app.Use(requestid.New())
	app.Use(limiter.New(limiter.Config{Max: 100, Expiration: 0}))
	app.Use(csrf.New(csrf.Config{KeyLookup: "form:csrf", CookieName: "csrf_", CookieSameSite: "Lax"}))
	app.Use(func(c *fiber.Ctx) error {
		if sid := c.Cookies("sid"); sid != "" {
			if u, err := authSvc.CurrentUser(sid); err == nil && u != nil {
				c.Locals("user", u)
			}
		}
		return c.Next()
	})

	caps := handlers.Capabilities{
		Scraper:   scrape.NewScraper(nil, 0),
		Snapshots: snapshot.NewMemoryCache(10*time.Minute, nil),
		Provider:  payments.NewFakeProvider(),
		Events:    events.NoopPublisher{},
		Mail:      mailer.NoopMailer{},
	}
	deps := handlers.NewDeps(db, cfg, authSvc, caps)
	app.Post("/pool/:id/join", deps.PoolHandler.Join)
	app.Get("/orders/:id", deps.PoolHandler.OrderView)
	app.Get("/login", authH.LoginForm)

	return app, db, repos.NewPoolRepo(db)
}

func extractCookieJoin(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestJoinPoolCreatesPledgeAndGuardsOrderView(t *testing.T) {
	app, _, poolRepo := newJoinApp(t)

	// Get CSRF token
	loginResp, _ := app.Test(httptest.NewRequest("GET", "/login", nil))
	csrfTok := extractCookieJoin(loginResp, "csrf_")
	if csrfTok == "" {
		t.Fatal("csrf token missing")
	}

	sid := "sid-buyer"
	form := strings.NewReader("csrf=" + csrfTok + "&qty=10&ship_name=Mei&ship_address=12+Harbor+Rd+Rotterdam")
	req := httptest.NewRequest("POST", "/pool/pool-kettle/join", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_", Value: csrfTok})
	req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected redirect on join, got %d body=%s", resp.StatusCode, body)
	}

	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/orders/") {
		t.Fatalf("unexpected redirect location %q", loc)
	}
	itemID := strings.TrimPrefix(loc, "/orders/")

	it, err := poolRepo.GetItem(itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if it.Qty != 10 || it.SessionID != sid {
		t.Fatalf("pledge row wrong: qty=%d session=%s", it.Qty, it.SessionID)
	}
	pool, err := poolRepo.Get("pool-kettle")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.PledgedQty != 10 {
		t.Fatalf("pledged qty = %d, want 10", pool.PledgedQty)
	}

	// Owner session may view the order
	reqOwn := httptest.NewRequest("GET", loc, nil)
	reqOwn.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	respOwn, err := app.Test(reqOwn)
	if err != nil {
		t.Fatal(err)
	}
	if respOwn.StatusCode != http.StatusOK {
		t.Fatalf("owner expected 200, got %d", respOwn.StatusCode)
	}

	// A different session must not see it
	reqOther := httptest.NewRequest("GET", loc, nil)
	reqOther.AddCookie(&http.Cookie{Name: "sid", Value: "sid-stranger"})
	respOther, err := app.Test(reqOther)
	if err != nil {
		t.Fatal(err)
	}
	if respOther.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger expected 404, got %d", respOther.StatusCode)
	}
}
