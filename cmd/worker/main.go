// Command worker runs one Worker Runtime process (§4.3): it registers
// against cmd/orchestrator over mTLS, then claims session.command messages
// off the durable queue and executes them against whichever connectors this
// worker was built with. It shares the control-plane Postgres database
// (read/write only through the narrow SessionMachine/EventPublisher slices
// it needs) and Redis instance with cmd/orchestrator; the mTLS surface is
// used only for the worker directory, not for session state.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/connector"
	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/masking"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/policy"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
	"github.com/codeready-toolchain/orchestrator/pkg/worker"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	orchestratorURL := flag.String("orchestrator-url", getEnv("ORCHESTRATOR_URL", "https://localhost:8443"), "cmd/orchestrator worker registration base URL")
	clientCertPath := flag.String("client-cert", getEnv("WORKER_CLIENT_CERT", ""), "worker's mTLS client certificate")
	clientKeyPath := flag.String("client-key", getEnv("WORKER_CLIENT_KEY", ""), "worker's mTLS client key")
	serverCAPath := flag.String("orchestrator-ca", getEnv("ORCHESTRATOR_CA", ""), "PEM CA bundle trusted for the orchestrator's server certificate")
	networkSegment := flag.String("network-segment", getEnv("NETWORK_SEGMENT", "default"), "network segment this worker can reach (§4.3)")
	concurrency := flag.Int("concurrency", 4, "number of concurrent claim-loop slots")
	flag.Parse()

	capabilities := connectorCapabilities(getEnvList("WORKER_CAPABILITIES"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting worker, network-segment=%s, capabilities=%v", *networkSegment, capabilities)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	pool, err := pgxpool.New(ctx, fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.Database, dbCfg.SSLMode))
	if err != nil {
		log.Fatalf("failed to open database pool: %v", err)
	}
	defer pool.Close()
	dbClient := database.NewClientFromPool(pool)

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

	registry := buildConnectorRegistry(cfg, capabilities)

	credStore := credential.NewHTTPStore(cfg.System.SecretsStoreEndpoint, nil)
	broker := credential.NewBroker(credStore)

	policyEngine, err := policy.NewEngine(cfg.Policy.DestructiveLexicon, cfg.Policy.TwoPersonApprovalRoles, cfg.Policy.RegisteredEgressTargets, nil)
	if err != nil {
		log.Fatalf("failed to build policy engine: %v", err)
	}

	masker := masking.NewService(cfg.Connector.OutputMaskingPatternGroups)

	publisher := events.NewEventPublisher(pool)
	resolver := session.NewStoreConnectionResolver(dbClient.Store)
	machine := session.NewMachine(dbClient.Store, publisher, q, resolver, cfg.System)

	httpClient, err := mtlsHTTPClient(*clientCertPath, *clientKeyPath, *serverCAPath)
	if err != nil {
		log.Fatalf("failed to build mTLS HTTP client: %v", err)
	}
	registrar := worker.NewHTTPOrchestratorClient(*orchestratorURL, httpClient)

	runtime := worker.New(worker.Config{
		Concurrency:       *concurrency,
		NetworkSegment:    *networkSegment,
		CapabilitySet:     capabilities,
		MaxLoad:           *concurrency,
		HeartbeatInterval: cfg.System.HeartbeatInterval,
		PollInterval:      cfg.Queue.PollInterval,
		ClaimBlockFor:     5 * time.Second,
	}, q, registry, broker, policyEngine, masker, publisher, machine, registrar)

	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("failed to start worker runtime: %v", err)
	}

	<-ctx.Done()
	log.Println("shutdown signal received")
	runtime.Stop()
}

func connectorCapabilities(raw []string) []models.ConnectorKind {
	if len(raw) == 0 {
		return []models.ConnectorKind{models.ConnectorSSH, models.ConnectorREST, models.ConnectorLocal}
	}
	out := make([]models.ConnectorKind, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.ConnectorKind(r))
	}
	return out
}

// buildConnectorRegistry wires every connector kind named in SPEC_FULL.md's
// transport surface; a worker only needs the subset matching its declared
// capabilities, but building them all is cheap and lets a single binary
// serve any segment.
func buildConnectorRegistry(cfg *config.Config, capabilities []models.ConnectorKind) *connector.Registry {
	wanted := make(map[models.ConnectorKind]bool, len(capabilities))
	for _, c := range capabilities {
		wanted[c] = true
	}

	httpClient := &http.Client{Timeout: cfg.Connector.RESTTimeout}

	all := []connector.Connector{
		connector.NewSSHConnector(cfg.Connector.SSHKnownHostsPath, 30*time.Second),
		connector.NewWinRMConnector(httpClient, true),
		connector.NewGCPIAPConnector(httpClient),
		connector.NewDatabaseConnector(10 * time.Second),
		connector.NewRESTConnector(httpClient),
		connector.NewLocalConnector(nil),
	}
	if wanted[models.ConnectorAzureRun] {
		if azureCred, err := azidentity.NewDefaultAzureCredential(nil); err != nil {
			log.Printf("azure default credential unavailable, azure_run_command connector disabled: %v", err)
		} else {
			all = append(all, connector.NewAzureRunCommandConnector(azureCred, httpClient, cfg.Connector.AzureRunCommandPollInterval))
		}
	}

	connectors := make([]connector.Connector, 0, len(all))
	for _, c := range all {
		if wanted[c.Kind()] {
			connectors = append(connectors, c)
		}
	}

	return connector.NewRegistry(connectors...)
}

func mtlsHTTPClient(certPath, keyPath, caPath string) (*http.Client, error) {
	if certPath == "" || keyPath == "" {
		return &http.Client{Timeout: 10 * time.Second}, nil
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading worker client certificate: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("reading orchestrator CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", caPath)
		}
		tlsCfg.RootCAs = pool
	}

	return &http.Client{Timeout: 10 * time.Second, Transport: &http.Transport{TLSClientConfig: tlsCfg}}, nil
}
