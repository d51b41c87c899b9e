// Command gigsync runs the messaging sync engine against a configured
// backend. In fixture mode it boots an in-process backend, seeds it with fake
// conversations, and simulates incoming traffic.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gigsync/internal/auth"
	"gigsync/internal/config"
	"gigsync/internal/history"
	"gigsync/internal/msgsync"
	"gigsync/internal/observability"
	"gigsync/internal/source"
	"gigsync/internal/source/api"
	"gigsync/internal/source/fixture"
	"gigsync/internal/transport"
)

const fixtureSecret = "fixture-only-signing-secret"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "gigsync",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TraceExporter != "off",
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx := context.Background()

	var (
		src        source.Source
		user       auth.LocalUser
		token      string
		wsURL      string
		fixtureSrv *fixture.Server
		store      *fixture.Store
	)

	switch cfg.DataSource {
	case config.SourceFixture:
		store = fixture.NewStore()
		localID := store.Seed(4, 12)
		user = auth.LocalUser{ID: localID, Username: store.Username(localID)}

		secret := cfg.JWTSecret
		if secret == "" {
			secret = fixtureSecret
		}
		token, err = auth.IssueToken(user, secret)
		if err != nil {
			log.Fatalf("Failed to issue fixture token: %v", err)
		}

		fixtureSrv = fixture.NewServer(store, secret)
		baseURL, err := fixtureSrv.Start()
		if err != nil {
			log.Fatalf("Failed to start fixture backend: %v", err)
		}
		log.Printf("Fixture backend listening at %s", baseURL)

		src = api.NewClient(baseURL, token, cfg.RequestTimeout)
		wsURL = strings.Replace(baseURL, "http://", "ws://", 1) + "/ws/chat"

	case config.SourceLive:
		src = api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout)
		token = cfg.AuthToken
		wsURL = cfg.WSURL
		user, err = auth.FromToken(token, cfg.JWTSecret)
		if err != nil {
			log.Fatalf("Failed to parse auth token: %v", err)
		}
	}

	var tr transport.Transport
	switch cfg.Transport {
	case config.TransportRedis:
		tr, err = transport.NewRedisTransport(cfg.RedisURL, user)
		if err != nil {
			log.Fatalf("Failed to create redis transport: %v", err)
		}
	case config.TransportWebsocket:
		tr = transport.NewWSTransport(wsURL, token, user)
	}

	var cache msgsync.HistoryCache
	if cfg.HistoryDriver != config.HistoryOff {
		hs, err := history.Open(cfg.HistoryDriver, cfg.HistoryDSN)
		if err != nil {
			log.Fatalf("Failed to open history cache: %v", err)
		}
		cache = hs
	}

	engine := msgsync.New(msgsync.Options{
		Source:    src,
		Transport: tr,
		History:   cache,
		User:      user,
		Timeout:   cfg.RequestTimeout,
	})
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start push transport: %v", err)
	}

	events, cancelEvents := engine.Bus().Subscribe(64)
	go func() {
		for ev := range events {
			switch ev.Type {
			case msgsync.EventThreadUpdated:
				log.Printf("thread updated: conversation=%d messages=%d", ev.ConversationID, len(engine.Messages()))
			case msgsync.EventConversationsUpdated:
				log.Printf("conversations updated: count=%d", len(engine.Conversations()))
			case msgsync.EventTypingChanged:
				log.Printf("typing: %v", engine.TypingUsers())
			}
		}
	}()

	if err := engine.LoadConversations(ctx); err != nil {
		log.Fatalf("Failed to load conversations: %v", err)
	}
	if convs := engine.Conversations(); len(convs) > 0 {
		if err := engine.OpenConversation(ctx, convs[0].ID); err != nil {
			log.Fatalf("Failed to open conversation: %v", err)
		}
	}

	// Fixture mode generates counterparty traffic so push reconciliation is
	// visible without a real backend.
	simCtx, stopSim := context.WithCancel(ctx)
	defer stopSim()
	if store != nil {
		go simulateTraffic(simCtx, store, user.ID)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	stopSim()
	cancelEvents()
	if err := engine.Close(); err != nil {
		log.Printf("Engine shutdown error: %v", err)
	}
	if fixtureSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := fixtureSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Fixture backend shutdown error: %v", err)
		}
		cancel()
	}
	if err := shutdownTracing(context.Background()); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
}

// simulateTraffic appends a counterparty message to a random conversation
// every few seconds.
func simulateTraffic(ctx context.Context, store *fixture.Store, localID uint) {
	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			convs, err := store.Conversations(ctx)
			if err != nil || len(convs) == 0 {
				continue
			}
			conv := convs[gofakeit.Number(0, len(convs)-1)]
			var sender uint
			for _, p := range conv.Participants {
				if p.ID != localID {
					sender = p.ID
					break
				}
			}
			if sender == 0 {
				continue
			}
			if _, err := store.AppendIncoming(conv.ID, sender, gofakeit.Sentence(6)); err != nil {
				log.Printf("simulate append failed: %v", err)
			}
		}
	}
}
