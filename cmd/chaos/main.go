// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"bookhold/internal/chaos"
	"bookhold/internal/clients"
	"bookhold/internal/telemetry"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "bookhold API base URL")
		staff       = flag.String("staff", "gameday", "staff username, must be in the server's ADMIN_USERNAMES")
		password    = flag.String("password", os.Getenv("CHAOS_PASSWORD"), "password for the staff and reader accounts")
		readers     = flag.Int("readers", 2, "reader accounts competing for the item")
		concurrency = flag.Int("concurrency", 50, "concurrent reserve requests")
		burst       = flag.Int("burst", 500, "search requests in the load burst")
		pause       = flag.Duration("pause", 30*time.Second, "pause between experiments")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if len(*password) < 8 {
		log.Error("a password of at least 8 characters is required (-password or CHAOS_PASSWORD)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "bookhold-chaos", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdown(context.Background())

	client := clients.New(*baseURL, clients.Options{})
	fixture, err := chaos.Prepare(ctx, client, *staff, *password, *readers)
	if err != nil {
		log.Error("preparing game day failed", "error", err)
		os.Exit(1)
	}

	engine := chaos.NewEngine(log, chaos.Options{Pause: *pause})
	engine.Register(
		chaos.ReserveRace(client, fixture, *concurrency),
		chaos.SearchBurst(client, *burst, 16),
	)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Weekly Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		log.Error("chaos game day failed", "error", err)
		os.Exit(1)
	}
	if !held {
		os.Exit(1)
	}
}
