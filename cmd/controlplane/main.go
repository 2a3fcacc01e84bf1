package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/attestation"
	"github.com/R3E-Network/runtime-trust-plane/internal/billing"
	"github.com/R3E-Network/runtime-trust-plane/internal/buildartifact"
	"github.com/R3E-Network/runtime-trust-plane/internal/byok"
	"github.com/R3E-Network/runtime-trust-plane/internal/config"
	"github.com/R3E-Network/runtime-trust-plane/internal/console"
	"github.com/R3E-Network/runtime-trust-plane/internal/corecontext"
	"github.com/R3E-Network/runtime-trust-plane/internal/dispatcher"
	"github.com/R3E-Network/runtime-trust-plane/internal/eventbus"
	"github.com/R3E-Network/runtime-trust-plane/internal/evaluation"
	"github.com/R3E-Network/runtime-trust-plane/internal/governance"
	"github.com/R3E-Network/runtime-trust-plane/internal/intelligence"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/placement"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner/hypervisorhttp"
	"github.com/R3E-Network/runtime-trust-plane/internal/remediation"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
	"github.com/R3E-Network/runtime-trust-plane/internal/telemetry"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
	"github.com/R3E-Network/runtime-trust-plane/internal/vmexecutor"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup")
	tenantID := flag.String("tenant", "", "tenant scope for the intelligence recompute sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log.SetFlags(0)
	appLog := logging.New("controlplane", cfg.Logging.Level, cfg.Logging.Format)

	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal == "" {
		log.Fatal("no database DSN configured (set -dsn, DATABASE_URL, or database.dsn)")
	}

	rootCtx := context.Background()

	db, err := storage.Open(rootCtx, dsnVal, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
		time.Duration(cfg.Database.ConnMaxLifetime)*time.Second)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()

	if *runMigrations && cfg.Database.MigrateOnStart {
		if err := storage.Migrate(db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	bus, err := eventbus.NewWithDB(db, dsnVal)
	if err != nil {
		log.Fatalf("start event bus: %v", err)
	}
	defer bus.Close()

	metrics := telemetry.Init("controlplane")
	core := corecontext.New(db, bus, appLog, metrics, cfg)

	masterKey, err := resolveMasterKey(cfg)
	if err != nil {
		log.Fatalf("resolve secret encryption key: %v", err)
	}

	// Trust Registry + Attestation Verifier
	trustStore := trust.NewPostgresStore(db)
	trustSvc := trust.NewService(trustStore, bus, appLog)

	// VM Provisioner Adapter
	hvDriver := hypervisorhttp.New(cfg.Hypervisor.Endpoint, cfg.Hypervisor.Token)
	provisioners := map[string]provisioner.Provisioner{
		policy.BackendContainerDaemon:  hvDriver,
		policy.BackendClusterScheduler: hvDriver,
		policy.BackendConfidentialVM:   hvDriver,
	}

	attestationCfg := attestation.Config{
		TrustedMeasurements: cfg.Attestation.Measurements,
		MaxAge:              time.Duration(cfg.Attestation.MaxAgeSeconds) * time.Second,
	}

	instanceStore := vminstance.NewPostgresStore(db)
	executor := vmexecutor.New(core, metrics, appLog, provisioners, instanceStore, trustSvc, attestationCfg, nil)

	// Remediation Orchestrator
	remediationStore := remediation.NewPostgresStore(db)
	shellExecutor := remediation.NewShellExecutor("scripts/remediation")
	playbooks := map[string]remediation.Playbook{
		"restart-workload": {Key: "restart-workload", ExecutorType: "shell"},
		"rotate-and-rekey": {Key: "rotate-and-rekey", ExecutorType: "shell", ApprovalRequired: true},
	}
	executors := map[string]remediation.PlaybookExecutor{"shell": shellExecutor}
	remediationOrch := remediation.New(remediationStore, trustSvc, playbooks, executors, appLog, metrics)
	if err := remediationOrch.Subscribe(bus); err != nil {
		log.Fatalf("subscribe remediation orchestrator: %v", err)
	}

	// Placement Gate
	placementGate := placement.New(instanceStore, trustSvc, remediationStore)

	// Runtime Policy Engine + Governance Gate + BYOK
	artifactStore := buildartifact.NewPostgresStore(db)
	governanceStore := governance.NewPostgresStore(db)
	byokStore := byok.NewPostgresStore(db)
	byokSvc := byok.New(byokStore, masterKey, appLog)
	governanceGate := governance.New(governanceStore).WithBYOK(byokSvc, []string{"gold"})
	policyStore := policy.NewPostgresStore(db)
	policyEngine := policy.New(policy.DefaultConfig(), artifactStore, governanceGate, policyStore)

	// Billing / Entitlement Ledger
	billingStore := billing.NewPostgresStore(db)
	billingLedger := billing.New(billingStore, core)
	var fallbackPlanID *int64
	renewalCfg := billing.RenewalConfig{
		Schedule:       cronScheduleFromSeconds(cfg.Billing.ScanIntervalSeconds),
		GraceWindow:    time.Duration(cfg.Billing.PastDueGraceDays) * 24 * time.Hour,
		FallbackPlanID: fallbackPlanID,
	}
	renewalScheduler := billing.NewRenewalScheduler(billingStore, core, appLog, renewalCfg)
	if err := renewalScheduler.Start(rootCtx); err != nil {
		log.Fatalf("start renewal scheduler: %v", err)
	}
	defer renewalScheduler.Stop()

	// Evaluation Certifications
	evaluationStore := evaluation.NewPostgresStore(db)

	// Intelligence Recomputer
	scoreStore := intelligence.NewPostgresStore(db)
	intelligenceEngine := intelligence.New(policyStore, artifactStore, scoreStore, core)
	serverLister := &instanceServerLister{instances: instanceStore}
	intelligenceScheduler := intelligence.NewScheduler(intelligenceEngine, serverLister, *tenantID, appLog, "@every 5m")
	if err := intelligenceScheduler.Start(rootCtx); err != nil {
		log.Fatalf("start intelligence scheduler: %v", err)
	}
	defer intelligenceScheduler.Stop()

	// Lifecycle Console Aggregator — the factory builds one Aggregator per
	// subscriber; this binary serves no console subscriptions and does not
	// call it.
	consoleFactory := func() *console.Aggregator {
		return console.New(instanceStore, trustSvc, remediationStore, scoreStore, policyStore)
	}
	_ = consoleFactory

	handlerDeps := jobHandlerDeps{
		policyEngine:    policyEngine,
		placementGate:   placementGate,
		executor:        executor,
		instances:       instanceStore,
		provisioners:    provisioners,
		intelligence:    intelligenceEngine,
		evaluationStore: evaluationStore,
		log:             appLog,
	}

	// Job Dispatcher
	dispatchStore := dispatcher.NewPostgresStore(db)
	handlers := buildJobHandlers(handlerDeps)
	jobDispatcher := dispatcher.New(dispatchStore, appLog, handlers, dispatcher.WithConcurrency(int64(cfg.Dispatcher.Workers)))
	if err := jobDispatcher.ReplayStartup(rootCtx); err != nil {
		log.Fatalf("replay stuck jobs: %v", err)
	}

	runCtx, cancelRun := context.WithCancel(rootCtx)
	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- jobDispatcher.Run(runCtx)
	}()

	appLog.Info(rootCtx, "control plane started", map[string]interface{}{"dispatcher_workers": cfg.Dispatcher.Workers})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info(rootCtx, "shutting down", nil)
	cancelRun()
	select {
	case <-dispatcherDone:
	case <-time.After(10 * time.Second):
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveMasterKey(cfg *config.Config) ([]byte, error) {
	key := strings.TrimSpace(cfg.Security.SecretEncryptionKey)
	if key == "" {
		return nil, errMissingMasterKey
	}
	return []byte(key), nil
}

var errMissingMasterKey = &configError{"SECRET_ENCRYPTION_KEY (security.secret_encryption_key) must be set"}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func cronScheduleFromSeconds(seconds int) string {
	if seconds <= 0 {
		return "@daily"
	}
	return "@every " + time.Duration(seconds*int(time.Second)).String()
}

// instanceServerLister adapts vminstance.Store's cursor pagination into
// intelligence.Scheduler's ServerLister, collecting the distinct server
// IDs seen across every page.
type instanceServerLister struct {
	instances vminstance.Store
}

func (l *instanceServerLister) ActiveServerIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var serverIDs []string
	var cursor int64
	for {
		page, err := l.instances.ListPage(ctx, cursor, 100)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, instance := range page {
			if !seen[instance.ServerID] {
				seen[instance.ServerID] = true
				serverIDs = append(serverIDs, instance.ServerID)
			}
		}
		cursor = page[len(page)-1].ID
	}
	return serverIDs, nil
}
