package handlers_test

import (
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

// Minimal app setup for validation tests
func newValidationApp(t *testing.T) *fiber.App {
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

	caps := handlers.Capabilities{
		Scraper:   scrape.NewScraper(nil, 0),
		Snapshots: snapshot.NewMemoryCache(10*time.Minute, nil),
		Provider:  payments.NewFakeProvider(),
		Events:    events.NoopPublisher{},
		Mail:      mailer.NoopMailer{},
	}
	deps := handlers.NewDeps(db, cfg, authSvc, caps)
	app.Get("/listings", deps.ListingHandler.Browse)
	app.Get("/listing/:id", deps.ListingHandler.Detail)
	app.Post("/pool/:id/join", deps.PoolHandler.Join)
	app.Get("/login", authH.LoginForm)

	return app
}

func extractCookieVal(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestValidationBadInputs(t *testing.T) {
	app := newValidationApp(t)

	// search with invalid chars
	req := httptest.NewRequest("GET", "/listings?q=%3Cscript%3E", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad search expected 400, got %d", resp.StatusCode)
	}

	// search with unknown platform filter
	req2 := httptest.NewRequest("GET", "/listings?q=kettle&platform=EBAY", nil)
	resp2, err := app.Test(req2)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad platform expected 400, got %d", resp2.StatusCode)
	}

	// listing detail with malformed id
	req3 := httptest.NewRequest("GET", "/listing/%3Cscript%3E", nil)
	resp3, err := app.Test(req3)
	if err != nil {
		t.Fatal(err)
	}
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("bad listing id expected 404, got %d", resp3.StatusCode)
	}

	// join with a zero quantity
	loginResp, _ := app.Test(httptest.NewRequest("GET", "/login", nil))
	csrfTok := extractCookieVal(loginResp, "csrf_")
	if csrfTok == "" {
		t.Fatal("csrf token missing")
	}
	form := strings.NewReader("csrf=" + csrfTok + "&qty=0&ship_name=Mei&ship_address=12+Harbor+Rd+Rotterdam")
	req4 := httptest.NewRequest("POST", "/pool/pool-kettle/join", form)
	req4.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req4.AddCookie(&http.Cookie{Name: "csrf_", Value: csrfTok})
	resp4, err := app.Test(req4)
	if err != nil {
		t.Fatal(err)
	}
	if resp4.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero qty expected 400, got %d", resp4.StatusCode)
	}
}
