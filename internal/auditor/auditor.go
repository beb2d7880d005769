// Package auditor re-verifies the ledger chain on a schedule and halts trust
// when the chain no longer verifies.
package auditor

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ServiceName is the gRPC health service name the auditor reports under.
const ServiceName = "windchill.ledger"

// Config holds auditor configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// Verifier is the subset of ledger.Ledger the auditor needs.
type Verifier interface {
	VerifyChain(ctx context.Context) error
	Len(ctx context.Context) (uint64, error)
}

// StatusSetter receives serving status changes. *health.Server satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// MetricsRecordFunc is an optional callback for recording audit results.
type MetricsRecordFunc func(success bool, elapsed time.Duration)

// HaltFunc is an optional callback invoked once when trust is halted.
type HaltFunc func(ctx context.Context, err error)

// Report is the outcome of the most recent audit pass.
type Report struct {
	CheckedAt time.Time `json:"checked_at"`
	Entries   uint64    `json:"entries"`
	Trusted   bool      `json:"trusted"`
	Error     string    `json:"error,omitempty"`
}

// Auditor runs periodic full-chain verification.
type Auditor struct {
	ledger Verifier
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	halted error
	last   Report

	status    StatusSetter
	onMetrics MetricsRecordFunc
	onHalt    HaltFunc
}

// New creates an Auditor. Trust starts granted; callers that verify at
// startup should call Check before serving.
func New(l Verifier, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = cfg.CheckInterval
	}
	return &Auditor{
		ledger: l,
		cfg:    cfg,
		logger: logger,
		last:   Report{Trusted: true},
	}
}

// SetStatusSetter wires a gRPC health server. The current trust state is
// published immediately.
func (a *Auditor) SetStatusSetter(s StatusSetter) {
	a.status = s
	a.publish(a.Trusted())
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// SetHaltHandler configures the callback fired when trust is halted.
func (a *Auditor) SetHaltHandler(fn HaltFunc) {
	a.onHalt = fn
}

// Start runs the audit loop until quit is signalled.
func (a *Auditor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CheckTimeout)
			a.Check(ctx) //nolint:errcheck
			cancel()
		case <-quit:
			return
		}
	}
}

// Check verifies the whole chain once. An integrity failure halts trust
// permanently: a ledger that failed verification stays untrusted until an
// operator restarts the service against a repaired store. Other failures
// (storage, cancellation) are logged and leave trust unchanged.
func (a *Auditor) Check(ctx context.Context) error {
	start := time.Now()
	err := a.ledger.VerifyChain(ctx)
	elapsed := time.Since(start)

	if a.onMetrics != nil {
		a.onMetrics(err == nil, elapsed)
	}

	n, lenErr := a.ledger.Len(ctx)
	if lenErr != nil {
		a.logger.Warn("auditor: ledger length", zap.Error(lenErr))
	}

	report := Report{CheckedAt: start.UTC(), Entries: n}

	switch {
	case err == nil:
		a.mu.Lock()
		report.Trusted = a.halted == nil
		if a.halted != nil {
			report.Error = a.halted.Error()
		}
		a.last = report
		a.mu.Unlock()
		a.logger.Debug("auditor: chain verified",
			zap.Uint64("entries", n),
			zap.Duration("elapsed", elapsed),
		)
		return nil

	case errors.Is(err, ledger.ErrIntegrity):
		a.halt(ctx, err, report)
		return err

	default:
		a.mu.Lock()
		report.Trusted = a.halted == nil
		report.Error = err.Error()
		a.last = report
		a.mu.Unlock()
		a.logger.Warn("auditor: verification did not complete", zap.Error(err))
		return err
	}
}

// Halt withdraws trust after an integrity failure found outside the audit
// loop, such as an on-demand verification over the API. Errors that are not
// integrity failures are ignored. Only the first halt publishes NOT_SERVING
// and fires the halt handler.
func (a *Auditor) Halt(ctx context.Context, err error) {
	if !errors.Is(err, ledger.ErrIntegrity) {
		return
	}
	a.mu.RLock()
	report := Report{CheckedAt: time.Now().UTC(), Entries: a.last.Entries}
	a.mu.RUnlock()
	a.halt(ctx, err, report)
}

func (a *Auditor) halt(ctx context.Context, err error, report Report) {
	a.mu.Lock()
	first := a.halted == nil
	if first {
		a.halted = err
	}
	report.Trusted = false
	report.Error = a.halted.Error()
	a.last = report
	a.mu.Unlock()

	if !first {
		return
	}
	a.logger.Error("auditor: ledger integrity broken, trust halted",
		zap.Uint64("entries", report.Entries),
		zap.Error(err),
	)
	a.publish(false)
	if a.onHalt != nil {
		a.onHalt(ctx, err)
	}
}

// Trusted reports whether every audit so far has verified the chain.
func (a *Auditor) Trusted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.halted == nil
}

// Err returns the integrity error that halted trust, or nil.
func (a *Auditor) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.halted
}

// LastReport returns the result of the most recent Check.
func (a *Auditor) LastReport() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

func (a *Auditor) publish(trusted bool) {
	if a.status == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !trusted {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.status.SetServingStatus(ServiceName, status)
	a.status.SetServingStatus("", status)
}
