package main

import (
	"log"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/config"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/web"
)

func main() {
	config.Load()

	// Init DB (creates kidsclub.db in working dir unless DB_PATH is set)
	if err := db.Init(); err != nil {
		log.Fatalf("db init: %v", err)
	}

	billing.SetKey(config.MustGet("STRIPE_SECRET_KEY"))

	identityWebhook, err := svix.NewWebhook(config.MustGet("IDENTITY_WEBHOOK_SECRET"))
	if err != nil {
		log.Fatalf("identity webhook secret: %v", err)
	}

	r := web.Router(web.Options{
		Gateway:              billing.NewStripe(),
		JWTSecret:            []byte(config.MustGet("JWT_SECRET")),
		IdentityWebhook:      identityWebhook,
		BillingSigningSecret: config.MustGet("STRIPE_WEBHOOK_SECRET"),
		BaseURL:              config.Get("BASE_URL", "http://localhost:8080"),
	})

	addr := config.Get("ADDR", ":8080")
	log.Printf("kidsclub listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal(err)
	}
}
