package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refundly.org/internal/allocation"
	"refundly.org/internal/auth"
	"refundly.org/internal/config"
	"refundly.org/internal/fees"
	"refundly.org/internal/httpapi"
	"refundly.org/internal/obs"
	"refundly.org/internal/product"
	"refundly.org/internal/store/pg"
	"refundly.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("REFUNDLY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		store    allocation.Store
		products product.Store
		probe    httpapi.ReadyProbe
		pgStore  *pg.Store
	)
	if cfg.PostgresDSN != "" {
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		products = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// Zero-config dev mode: in-memory store with a demo catalog.
		mem, catalog := seedDev()
		store = mem
		products = catalog
	}

	api := httpapi.New(probe, version, store, products, auth.NewRoleApprover(), stream.New())
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)
	api.SetCredentialHash(cfg.CredentialHash)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
		IdleTimeout:       cfg.IdleTimeout.Duration,
	}

	log.Printf("Starting refundly-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// seedDev mirrors ops/migrations/seeds/0001_demo_catalog.sql so the in-memory
// server behaves like a freshly seeded database.
func seedDev() (*allocation.InMemory, *product.Catalog) {
	mem := allocation.NewInMemory()
	schedules := []fees.Schedule{
		{ID: "prep-flat", Name: "Preparation (flat)", Kind: fees.KindFlat, Amount: 12500},
		{ID: "prep-pct", Name: "Preparation (percentage)", Kind: fees.KindPercentage, RateBps: 250},
		{ID: "prep-tiered", Name: "Preparation (tiered)", Kind: fees.KindTiered, Tiers: []fees.Tier{
			{Min: 0, Max: i64(100000), Fee: 9900},
			{Min: 100000, Max: i64(500000), Fee: 14900},
			{Min: 500000, Fee: 19900},
		}},
	}
	for _, s := range schedules {
		if err := mem.PutFeeSchedule(s); err != nil {
			log.Fatalf("seed schedule %s: %v", s.ID, err)
		}
	}
	mem.PutTemplate(allocation.Template{
		ID:   "standard-1040",
		Name: "Standard 1040",
		Items: []allocation.TemplateItem{
			{Label: "Preparation fee", Type: allocation.ItemFee, Required: true, FeeScheduleID: "prep-tiered"},
			{Label: "Transmission fee", Type: allocation.ItemFee, Required: true, Amount: 4000},
		},
	})

	catalog := product.NewCatalog()
	catalog.Put(product.Provider{
		ID:   "tpg",
		Name: "Taxpayer Products Group",
		Products: []product.Product{
			{ID: "adv-500", ProviderID: "tpg", Name: "Advance 500", Kind: product.KindAdvance,
				MinimumRefund: 100000, MaximumAmount: 50000},
			{ID: "adv-1000", ProviderID: "tpg", Name: "Advance 1000", Kind: product.KindAdvance,
				MinimumRefund: 200000, MaximumAmount: 100000, Fee: 3500},
			{ID: "rt-basic", ProviderID: "tpg", Name: "Refund Transfer", Kind: product.KindTransfer,
				MinimumRefund: 50000, MaximumAmount: 1<<62 - 1, Fee: 3995},
			{ID: "card-basic", ProviderID: "tpg", Name: "Prepaid Card", Kind: product.KindCard,
				MinimumRefund: 25000, MaximumAmount: 1<<62 - 1},
		},
	})
	return mem, catalog
}

func i64(v int64) *int64 { return &v }
