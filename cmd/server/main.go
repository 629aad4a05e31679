// Command server runs the family identity core: challenge-response auth,
// roster management, chat coordination and read-receipt delivery behind one
// HTTP listener, with the audit outbox worker alongside.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"carelink/internal/chat"
	chatclient "carelink/internal/chat/client"
	"carelink/internal/device"
	"carelink/internal/fanout"
	httpapi "carelink/internal/http"
	"carelink/internal/identity/challenge"
	"carelink/internal/identity/registry"
	"carelink/internal/identity/session"
	challengestore "carelink/internal/identity/store/challenge"
	identitystore "carelink/internal/identity/store/identity"
	userstore "carelink/internal/identity/store/user"
	"carelink/internal/patient"
	"carelink/internal/platform/config"
	"carelink/internal/platform/httpserver"
	"carelink/internal/platform/logger"
	"carelink/internal/platform/postgres"
	"carelink/internal/platform/redis"
	"carelink/internal/profile"
	"carelink/internal/push"
	"carelink/internal/readreceipt"
	"carelink/internal/removal"
	"carelink/internal/tenant"
	"carelink/pkg/platform/audit"
	auditpg "carelink/pkg/platform/audit/store/postgres"
	auditworker "carelink/pkg/platform/audit/worker"
	"carelink/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if rdb == nil {
		log.Error("redis not configured", "hint", "set CARELINK_REDIS_URL")
		os.Exit(1)
	}
	defer rdb.Close()

	feed, err := fanout.Connect(cfg.NATSURL, log)
	if err != nil {
		log.Error("nats unavailable", "error", err)
		os.Exit(1)
	}
	defer feed.Close()

	// Stores.
	identities := identitystore.NewPostgresStore(db)
	users := userstore.NewPostgresStore(db)
	patients := patient.NewPostgresStore(db)
	tenants := tenant.NewPostgresStore(db)
	devices := device.NewPostgresStore(db)
	levels := chat.NewPostgresLevelStore(db)
	challenges := challengestore.NewRedisStore(rdb.Client)
	sessions := session.NewRedisStore(rdb.Client)
	profiles := profile.NewRedisCache(rdb.Client)
	watches := readreceipt.NewRedisSubscriptionStore(rdb)

	// Audit: services append to the outbox; the worker drains it to Kafka.
	auditor := audit.NewPublisher(auditpg.New(db))
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		if err := auditworker.EnsureTopics(ctx, kafka); err != nil {
			log.Error("audit topics", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := auditworker.New(db, kafka, log).Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("audit worker stopped", "error", err)
			}
		}()
	} else {
		log.Warn("kafka brokers not configured, audit outbox will not drain")
	}

	// External clients.
	external := chatclient.New(cfg.Chat, log)
	pusher := push.NewClient(cfg.Push, log)

	// Services.
	refresher := profile.NewRefresher(identities, users, profiles)
	issuer := session.NewIssuer(cfg.JWTSigningKey, cfg.SessionTTL)
	registrySvc := registry.New(identities, users, patients, tenants, external, refresher, auditor, tx.NewRunner(db), log)
	challengeSvc := challenge.New(challenges, identities, users, tenants, sessions, issuer, registrySvc, auditor, challenge.Config{
		LoginTTL:         cfg.LoginChallengeTTL,
		RegistrationTTL:  cfg.RegistrationChallengeTTL,
		InvitationTTL:    cfg.InvitationTTL,
		DefaultRosterCap: cfg.DefaultRosterCap,
	}, log)
	coordinator := chat.NewCoordinator(external, patients, tenants, users, identities, levels, devices, feed, auditor, log)
	remover := removal.New(identities, patients, tenants, external, pusher, sessions, profiles, auditor, log)
	receipts := readreceipt.NewManager(external, watches, feed, identities, devices, tenants, auditor, log)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:   log,
		Issuer:   issuer,
		Auth:     httpapi.NewAuthHandler(challengeSvc, log),
		Identity: httpapi.NewIdentityHandler(registrySvc, remover, profiles, log),
		Chat:     httpapi.NewChatHandler(coordinator, log),
		Receipts: httpapi.NewReceiptHandler(receipts, log),
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
