package handlers

import (
	"github.com/jmoiron/sqlx"

	"moqpools/internal/config"
	"moqpools/internal/events"
	"moqpools/internal/imagecache"
	"moqpools/internal/mailer"
	"moqpools/internal/payments"
	"moqpools/internal/repos"
	"moqpools/internal/scrape"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
)

// Capabilities are the side-effecting collaborators chosen at startup:
// real browser or noop, Stripe or fake, Redis or memory. Handlers never
// probe for them at runtime.
type Capabilities struct {
	Scraper   *scrape.Scraper
	Images    *imagecache.Cache
	Snapshots snapshot.Cache
	Provider  payments.Provider
	Events    events.Publisher
	Mail      mailer.Mailer
}

type Deps struct {
	ListingHandler   *ListingHandler
	PoolHandler      *PoolHandler
	MessageHandler   *MessageHandler
	WatchlistHandler *WatchlistHandler
	AdminHandler     *AdminHandler

	// PoolSvc is exposed for the background deadline sweep.
	PoolSvc *services.PoolService
}

func NewDeps(db *sqlx.DB, cfg config.Config, auth *services.AuthService, caps Capabilities) *Deps {
	listingRepo := repos.NewListingRepo(db)
	poolRepo := repos.NewPoolRepo(db)
	msgRepo := repos.NewMessageRepo(db)
	alertRepo := repos.NewAlertRepo(db)
	watchRepo := repos.NewWatchlistRepo(db)
	userRepo := repos.NewUserRepo(db)

	catalogSvc := services.NewCatalogService(listingRepo, caps.Snapshots)
	ingestSvc := services.NewIngestService(caps.Scraper, listingRepo, caps.Images, caps.Snapshots, alertRepo, cfg.ScrapeLimit)
	poolSvc := services.NewPoolService(poolRepo, listingRepo, userRepo, alertRepo, caps.Provider, caps.Events, caps.Mail)
	msgSvc := services.NewMessageService(msgRepo, poolRepo)

	return &Deps{
		ListingHandler:   &ListingHandler{Catalog: catalogSvc, Pools: poolRepo},
		PoolHandler:      &PoolHandler{Pool: poolSvc, Repo: poolRepo, Auth: auth},
		MessageHandler:   &MessageHandler{Msg: msgSvc},
		WatchlistHandler: &WatchlistHandler{Watch: watchRepo},
		AdminHandler:     &AdminHandler{Pool: poolSvc, Ingest: ingestSvc, Repo: poolRepo, Alerts: alertRepo, Users: userRepo, Snaps: caps.Snapshots},
		PoolSvc:          poolSvc,
	}
}
