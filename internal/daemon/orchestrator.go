// Package daemon wires every component (store, auth, profile, policy,
// tracker, broker, intake, bus) into one supervised process and owns its
// signal-driven lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/dots-distro/dots-family-mode-sub003/internal/auth"
	"github.com/dots-distro/dots-family-mode-sub003/internal/broker"
	"github.com/dots-distro/dots-family-mode-sub003/internal/bus"
	"github.com/dots-distro/dots-family-mode-sub003/internal/config"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/internal/intake"
	"github.com/dots-distro/dots-family-mode-sub003/internal/policy"
	"github.com/dots-distro/dots-family-mode-sub003/internal/profile"
	"github.com/dots-distro/dots-family-mode-sub003/internal/store"
	"github.com/dots-distro/dots-family-mode-sub003/internal/tracker"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

/**
 * CONTEXT:   Process-level orchestrator: the single binary's main loop
 * INPUT:     A loaded config.DaemonConfig and a passphrase-unlocked store
 * OUTPUT:    A running daemon exporting org.dots.FamilyDaemon on the
 *            system bus, draining intake into the decision goroutine,
 *            running periodic maintenance, until a shutdown signal
 * BUSINESS:  REPORTING_ONLY (spec.md 6) downgrades every enforcement-
 *            capable Decision to audit-only, never suppressing the audit
 *            write itself
 * CHANGE:    Replaces the teacher's HTTP-server Orchestrator wholesale:
 *            same lifecycle shape (NewOrchestrator -> Run -> signal wait
 *            -> gracefulShutdown with a timeout context and a WaitGroup
 *            drain), generalized from an HTTP server + use-case struct
 *            set to a bus service + policy/tracker/broker/intake struct
 *            set
 * RISK:      High - owns process exit codes and the only shutdown path;
 *            gracefulShutdown stops the bus and health servers, drains the
 *            background loops and closes the store, and does not end open
 *            Session rows
 */
const DefaultShutdownTimeout = 10 * time.Second

// Exit codes, checked by cmd/family-daemon's main().
const (
	ExitClean              = 0
	ExitConfigError        = 2
	ExitSchemaError        = 3
	ExitCapabilityError    = 4
	ExitBusNameUnavailable = 5
)

type Orchestrator struct {
	cfg *config.DaemonConfig
	log *logger.DefaultLogger

	db        *store.Store
	tokens    *auth.Manager
	rateLimit *auth.RateLimiter
	profiles  *profile.Store
	engine    *policy.Engine
	track     *tracker.Tracker
	brk       *broker.Broker
	in        *intake.Intake
	busConn   *dbus.Conn
	busSvc    *bus.Service
	health    *bus.HealthServer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	mu        sync.RWMutex
	isRunning bool

	passphraseHash string // PHC-encoded; verified against on Authenticate
}

type Options struct {
	ConfigPath string
	Passphrase string
	Logger     *logger.DefaultLogger
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewDefaultLogger("family-daemon", cfg.Logging.Level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{cfg: cfg, log: log, ctx: ctx, cancel: cancel, startTime: time.Now()}

	if err := o.initialize(opts.Passphrase); err != nil {
		cancel()
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) initialize(passphrase string) error {
	storeCfg := store.DefaultConnectionConfig(o.cfg.Database.Path)

	db, err := store.Open(o.ctx, storeCfg, passphrase, o.log)
	if err != nil {
		return err
	}
	o.db = db

	// Successfully opening the envelope already proves passphrase as of
	// startup; a PHC hash of it is derived once here so later Authenticate
	// bus calls can be checked in constant time without re-touching the
	// envelope key.
	hash, err := auth.HashPassphrase(passphrase)
	if err != nil {
		return domain.NewInternalError("failed to hash unlock passphrase", err)
	}
	o.passphraseHash = hash

	o.tokens = auth.NewManager(db, o.cfg.SessionTimeout())
	o.rateLimit = auth.NewRateLimiter(db, o.cfg.Auth.RateLimit.Attempts, o.cfg.RateLimitWindow())

	o.profiles = profile.New(profile.Config{DB: db, Logger: o.log})
	if err := o.profiles.Load(o.ctx); err != nil {
		return err
	}

	o.engine = policy.NewEngine()
	o.track = tracker.New(db, o.log, tracker.DefaultIdleThreshold, tracker.DefaultActivationDebounce)
	o.brk = broker.New(db, o.tokens, o.track, o.log)
	o.in = intake.New(o.profiles, o.log)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return domain.NewCapabilityError("failed to connect to system bus", err)
	}
	o.busConn = conn

	facade := &daemonFacade{o: o}
	busPolicy := bus.NewPolicy(bus.DefaultParentGroup, bus.DefaultChildrenGroup, o.profiles)
	o.busSvc = bus.New(conn, facade, busPolicy.Authorize, busPolicy.AuthorizeScope, o.log)

	o.health = bus.NewHealthServer(bus.HealthConfig{
		EnableHTTP: o.cfg.Health.EnableHTTP,
		Addr:       o.cfg.Health.ListenAddr,
	}, o.log)

	return nil
}

// Run blocks until a shutdown signal arrives or a fatal error occurs.
func (o *Orchestrator) Run() error {
	o.mu.Lock()
	o.isRunning = true
	o.mu.Unlock()

	if err := o.busSvc.Start(); err != nil {
		return err
	}
	if err := o.health.Start(); err != nil {
		return err
	}
	o.health.SetReady(true)

	o.startBackgroundLoops()

	o.log.Info("family daemon started", "pid", os.Getpid(), "bus_name", bus.BusName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	o.log.Info("received shutdown signal", "signal", sig)
	return o.gracefulShutdown()
}

func (o *Orchestrator) startBackgroundLoops() {
	o.wg.Add(2)
	go o.decisionLoop()
	go o.maintenanceLoop()
}

// decisionLoop is the single goroutine permitted to touch o.track's
// per-profile state, per spec.md 5/9.
func (o *Orchestrator) decisionLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case event, ok := <-o.in.Events():
			if !ok {
				return
			}
			o.handleEvent(event)
		}
	}
}

func (o *Orchestrator) handleEvent(event domain.Event) {
	snapshot, err := o.track.Handle(o.ctx, event)
	if err != nil {
		o.log.Error("tracker failed to handle event", "error", err, "profile_id", event.ProfileID)
		return
	}
	if event.ProfileID == "" {
		rec := domain.NewAuditRecord(domain.AuditActorSystem, "unbound_event", domain.ResourceIntake, strconv.Itoa(event.UID), true, event.KernelTime).
			WithDetail("event_kind", string(event.Kind))
		if err := o.db.Audit.Append(o.ctx, rec); err != nil {
			o.log.Error("failed to audit unbound event", "error", err)
		}
		return
	}

	p, ok := o.profiles.Get(event.ProfileID)
	if !ok {
		return
	}

	profileSnapshot := domain.ProfileSnapshot{
		ProfileID:        p.ID,
		AgeBand:          p.AgeBand,
		Config:           p.Config,
		ActiveExceptions: o.track.Exceptions(event.ProfileID),
	}
	decision := o.engine.Evaluate(profileSnapshot, snapshot, event)
	o.applyDecision(event, decision)
}

func (o *Orchestrator) applyDecision(event domain.Event, decision domain.Decision) {
	enforce := decision.Kind != domain.DecisionAllow
	reportingOnly := config.ReportingOnly()

	rec := domain.NewAuditRecord(domain.AuditActorSystem, "policy_decision", domain.ResourceProfile, event.ProfileID, true, event.KernelTime)
	rec = rec.WithDetail("event_kind", string(event.Kind)).
		WithDetail("decision", string(decision.Kind)).
		WithDetail("reason", string(decision.Reason)).
		WithDetail("scope", string(decision.Scope)).
		WithDetail("reporting_only", strconv.FormatBool(reportingOnly))
	if err := o.db.Audit.Append(o.ctx, rec); err != nil {
		o.log.Error("failed to audit decision", "error", err)
	}

	if enforce && reportingOnly {
		o.log.Info("reporting-only: suppressing enforcement signal", "decision", decision.Kind, "reason", decision.Reason, "profile_id", event.ProfileID)
		return
	}
	// Enforcement signal delivery (killing a process, injecting a block
	// page, rejecting a terminal command) is carried out by the kernel
	// probe / proxy that owns that resource; the daemon's responsibility
	// ends at the audited Decision and the live exception/session state
	// those collaborators poll via the bus.
}

func (o *Orchestrator) maintenanceLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MonitoringInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case now := <-ticker.C:
			o.runMaintenance(now)
		}
	}
}

func (o *Orchestrator) runMaintenance(now time.Time) {
	o.track.SweepIdle(now)

	if err := o.brk.SweepExceptions(o.ctx, now); err != nil {
		o.log.Error("exception sweep failed", "error", err)
	}

	profiles := o.profiles.List(false)
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	if err := o.brk.SweepApprovals(o.ctx, ids, now); err != nil {
		o.log.Error("approval sweep failed", "error", err)
	}

	if drops := o.in.DropCounts(); len(drops) > 0 {
		for kind, count := range drops {
			o.log.Warn("telemetry events dropped under backpressure", "kind", kind, "count", count)
			rec := domain.NewAuditRecord(domain.AuditActorSystem, "telemetry_dropped", domain.ResourceIntake, string(kind), true, now).
				WithDetail("dropped_since_startup", strconv.FormatUint(count, 10))
			if err := o.db.Audit.Append(o.ctx, rec); err != nil {
				o.log.Error("failed to audit telemetry drops", "error", err)
			}
		}
	}

	if _, err := o.db.Prune(o.ctx, now, o.cfg.RetentionWindow()); err != nil {
		o.log.Error("retention prune failed", "error", err)
	}
}

func (o *Orchestrator) gracefulShutdown() error {
	o.mu.Lock()
	o.isRunning = false
	o.mu.Unlock()
	o.health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	var errs []error

	o.health.Stop()
	if err := o.busSvc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus close: %w", err))
	}

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if err := o.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	uptime := time.Since(o.startTime)
	if len(errs) > 0 {
		o.log.Error("shutdown completed with errors", "uptime", uptime, "errors", len(errs))
		return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
	}
	o.log.Info("shutdown complete", "uptime", uptime)
	return nil
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isRunning
}
