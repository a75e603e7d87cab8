package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"escrowflow/auth"
	"escrowflow/db"
	"escrowflow/ledger"
	"escrowflow/projection"
)

func main() {
	ctx := context.Background()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	engine := ledger.NewEngine(ledger.NewMemoryState())
	engine.SetEmitter(projection.NewEventStore(pool))

	server := &Server{
		authService: auth.NewService(auth.NewRepository(pool), jwtSecret),
		ledger:      engine,
		views:       projection.NewService(engine, projection.NewRepository(pool)),
		events:      projection.NewEventStore(pool),
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
