package main

import (
	"context"
	"log"
	"net/http"

	"actionkeeper/agreement"
	"actionkeeper/auth"
	"actionkeeper/config"
	"actionkeeper/db"
	"actionkeeper/payment"
	"actionkeeper/receipt"
)

func main() {
	ctx := context.Background()
	cfg := config.FromEnv()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	agreementService := agreement.NewService(pool, agreement.NewRepository(), receipt.NewFingerprinter())
	verifyService := receipt.NewService(agreementService)
	issuer := receipt.NewIssuer(agreementService, receipt.NewArtifactRepository(pool), cfg.VerifyBaseURL, cfg.ArtifactsDir)

	server := &Server{
		agreementSvc:  agreementService,
		verifySvc:     verifyService,
		issuer:        issuer,
		paymentSvc:    payment.NewService(pool),
		authSvc:       auth.NewService(auth.NewPGRepository(pool), cfg.JWTSecret),
		webhookSecret: cfg.PaymentWebhookSecret,
	}

	log.Printf("listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
