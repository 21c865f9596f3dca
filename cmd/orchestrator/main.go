// Command orchestrator runs the control-plane process: the operator and
// webhook HTTP API, the Session State Machine, the Approval Gate, and the
// orphaned command-queue sweeper. Worker Runtimes (cmd/worker) are a
// separate process that registers against this one over HTTP.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/orchestrator/pkg/api"
	"github.com/codeready-toolchain/orchestrator/pkg/approval"
	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
	"github.com/codeready-toolchain/orchestrator/pkg/slack"
	"github.com/codeready-toolchain/orchestrator/pkg/ticketadapter"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	addr := flag.String("addr", getEnv("HTTP_ADDR", ":8080"), "operator/webhook HTTP listen address")
	workerAddr := flag.String("worker-addr", getEnv("WORKER_ADDR", ":8443"), "mTLS worker registration/heartbeat listen address")
	clientCAPath := flag.String("worker-client-ca", getEnv("WORKER_CLIENT_CA", ""), "PEM file of CAs trusted to sign worker client certs")
	tlsCertPath := flag.String("tls-cert", getEnv("TLS_CERT", ""), "server certificate for the worker mTLS listener")
	tlsKeyPath := flag.String("tls-key", getEnv("TLS_KEY", ""), "server key for the worker mTLS listener")
	webhookSecret := flag.String("webhook-secret", getEnv("TICKET_WEBHOOK_SECRET", ""), "HMAC secret for POST /tickets/webhook, empty disables verification")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting orchestrator, config-dir=%s", *configDir)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("connected to postgres, migrations applied")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	q, err := queue.NewQueue(ctx, redisClient, cfg.Queue)
	if err != nil {
		log.Fatalf("failed to initialize command queue: %v", err)
	}

	sweeper := queue.NewOrphanSweeper(redisClient, cfg.Queue.StreamKey, cfg.Queue.ConsumerGroup, cfg.Queue.AckWindow, cfg.Queue.ClaimRedeliveryLimit, "orchestrator-sweeper")
	go sweeper.Run(ctx, cfg.Queue.OrphanSweepInterval)

	publisher := events.NewEventPublisher(dbClient.Pool)
	catchupQuerier := events.NewPostgresCatchupQuerier(dbClient.Pool)
	connManager := events.NewConnectionManager(catchupQuerier, 10*time.Second)
	listener := events.NewNotifyListener(dbConnString(dbCfg), connManager)
	connManager.SetListener(listener)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("failed to start LISTEN/NOTIFY listener: %v", err)
	}

	resolver := session.NewStoreConnectionResolver(dbClient.Store)
	machine := session.NewMachine(dbClient.Store, publisher, q, resolver, cfg.System)

	selfBaseURL := getEnv("SELF_BASE_URL", "http://localhost"+*addr)
	ticketProvider := ticketadapter.NewHTTPProvider(selfBaseURL, nil)
	machine.SetTicketNotifier(ticketadapter.New(dbClient.Store, ticketProvider))

	slackService := slack.NewService(slack.ServiceConfig{
		Token:        cfg.System.EscalationSlackToken,
		Channel:      cfg.System.EscalationSlackChannel,
		DashboardURL: cfg.System.DashboardURL,
	})
	escalator := approval.SlackEscalator{Service: slackService}
	gate := approval.NewGate(dbClient.Store, machine, escalator)
	if err := gate.Start(cfg.System.ApprovalSweepInterval); err != nil {
		log.Fatalf("failed to start approval gate: %v", err)
	}
	defer gate.Stop()

	server := api.NewServer(cfg, dbClient.Pool, dbClient.Store, machine, gate, connManager, catchupQuerier)
	// No concrete matcher.Index/KeywordFallback implementation exists to
	// wire in (see DESIGN.md); SetMatcher is left unset, so webhook
	// ingestion records tickets without an auto-suggested runbook.
	if *webhookSecret != "" {
		server.SetWebhookSecret([]byte(*webhookSecret))
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("operator/webhook API listening on %s", *addr)
		if err := server.Start(*addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("operator API: %w", err)
		}
	}()

	var workerListener net.Listener
	if *tlsCertPath != "" && *tlsKeyPath != "" {
		workerListener, err = newMTLSListener(*workerAddr, *tlsCertPath, *tlsKeyPath, *clientCAPath)
		if err != nil {
			log.Fatalf("failed to start worker mTLS listener: %v", err)
		}
		go func() {
			log.Printf("worker registration API (mTLS) listening on %s", *workerAddr)
			if err := server.StartWithListener(workerListener); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("worker API: %w", err)
			}
		}()
	} else {
		log.Println("no --tls-cert/--tls-key configured: worker registration endpoints are served on the operator listener without mTLS enforcement")
	}

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down HTTP server", "error", err)
	}
	listener.Stop(shutdownCtx)
}

func dbConnString(cfg database.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}

// newMTLSListener builds the TLS listener the worker registration surface
// serves on: requireWorkerCert (pkg/api/middleware.go) only checks that a
// verified peer certificate is present, so termination happens here.
func newMTLSListener(addr, certPath, keyPath, clientCAPath string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	if clientCAPath != "" {
		pem, err := os.ReadFile(clientCAPath)
		if err != nil {
			return nil, fmt.Errorf("reading worker client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", clientCAPath)
		}
		tlsCfg.ClientCAs = pool
	}

	return tls.Listen("tcp", addr, tlsCfg)
}
