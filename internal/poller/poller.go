// Package poller runs the scheduled listing cycle: read the credential, call the
// listing endpoint, parse the response and hand the recordings to a handler.
package poller

import (
	"context"
	stderrors "errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"recording-relay/internal/common/errors"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/models"
)

var (
	// ErrAlreadyRunning is returned by Start on a running poller
	ErrAlreadyRunning = stderrors.New("poller is already running")

	// ErrNotRunning is returned by Stop on a stopped poller
	ErrNotRunning = stderrors.New("poller is not running")

	// ErrCycleInProgress is returned by Trigger while another cycle runs
	ErrCycleInProgress = stderrors.New("a poll cycle is already in progress")
)

// CredentialSource supplies the current bearer token
type CredentialSource interface {
	Get() (string, bool)
}

// Lister fetches the raw listing body
type Lister interface {
	List(ctx context.Context, token string) ([]byte, error)
}

// Handler consumes the recordings of one cycle. ctx carries the cycle id.
type Handler func(ctx context.Context, items iter.Seq[models.Recording]) error

// Config controls scheduling
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// CycleResult describes one completed or abandoned cycle
type CycleResult struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Items      int       `json:"items"`
	Error      string    `json:"error,omitempty"`
}

// Stats is a snapshot for the status API
type Stats struct {
	State        string       `json:"state"`
	Running      bool         `json:"running"`
	Cycles       int64        `json:"cycles"`
	FailedCycles int64        `json:"failed_cycles"`
	LastCycle    *CycleResult `json:"last_cycle,omitempty"`
	NextCycle    *time.Time   `json:"next_cycle,omitempty"`
}

// Poller schedules listing cycles. Cycles never overlap.
type Poller struct {
	config  Config
	creds   CredentialSource
	lister  Lister
	handler Handler
	logger  logging.Logger

	state   atomic.Int32
	cycleMu sync.Mutex

	mu        sync.RWMutex
	running   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	scheduler *cron.Cron
	entryID   cron.EntryID
	wg        sync.WaitGroup
	lastCycle *CycleResult
	cycles    int64
	failed    int64
}

// New creates a poller. logger may be nil.
func New(config Config, creds CredentialSource, lister Lister, handler Handler, logger logging.Logger) *Poller {
	return &Poller{
		config:  config,
		creds:   creds,
		lister:  lister,
		handler: handler,
		logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "poller")),
	}
}

// State returns where the current cycle is, or StateIdle between cycles
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Start schedules cycles every Interval, the first one after InitialDelay
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := logging.NewCronLogger(p.logger)

	job := cron.NewChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	).Then(cron.FuncJob(func() {
		// failures are logged inside the cycle
		if _, err := p.Trigger(runCtx); stderrors.Is(err, ErrCycleInProgress) {
			p.logger.Debug("Skipping scheduled cycle, a manual cycle is running")
		}
	}))

	scheduler := cron.New(cron.WithLogger(cronLogger))

	p.running = true
	p.runCtx = runCtx
	p.cancel = cancel
	p.scheduler = scheduler

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(p.config.InitialDelay)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}

		job.Run()

		p.mu.Lock()
		defer p.mu.Unlock()
		if runCtx.Err() != nil {
			return
		}
		p.entryID = scheduler.Schedule(cron.Every(p.config.Interval), job)
		scheduler.Start()
	}()

	p.logger.Info("Poller started",
		logging.Duration("interval", p.config.Interval),
		logging.Duration("initial_delay", p.config.InitialDelay),
	)
	return nil
}

// Stop cancels the schedule and waits for an in-flight cycle to finish
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	p.cancel()
	p.runCtx = nil
	scheduler := p.scheduler
	p.mu.Unlock()

	p.wg.Wait()
	<-scheduler.Stop().Done()

	// wait out a manual cycle; its claimed downloads finish first
	p.cycleMu.Lock()
	p.cycleMu.Unlock()

	p.logger.Info("Poller stopped")
	return nil
}

// Trigger runs one cycle now and returns its result. It fails with
// ErrCycleInProgress rather than queueing behind a running cycle. While the
// poller is started the cycle also ends when Stop is called.
func (p *Poller) Trigger(ctx context.Context) (*CycleResult, error) {
	if !p.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer p.cycleMu.Unlock()

	p.mu.RLock()
	runCtx := p.runCtx
	p.mu.RUnlock()
	if runCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()
	}

	result, err := p.runCycle(ctx)

	p.mu.Lock()
	p.cycles++
	if err != nil {
		p.failed++
	}
	p.lastCycle = result
	p.mu.Unlock()

	return result, err
}

func (p *Poller) runCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{CycleID: uuid.NewString(), StartedAt: time.Now()}
	ctx = logging.ContextWithCycleID(ctx, result.CycleID)
	logger := p.logger.WithContext(ctx)

	defer p.setState(StateIdle)
	finish := func(err error) (*CycleResult, error) {
		result.FinishedAt = time.Now()
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	p.setState(StateAuthenticating)
	token, ok := p.creds.Get()
	if !ok {
		err := errors.CredentialUnavailableError("authentication token not available")
		logger.Warn("Poll cycle abandoned", logging.Err(err))
		return finish(err)
	}

	p.setState(StateRequesting)
	body, err := p.lister.List(ctx, token)
	if err != nil {
		logger.Error("Listing request failed", err)
		return finish(err)
	}

	p.setState(StateParsingResponse)
	recordings, err := ParseListing(body)
	if err != nil {
		logger.Error("Listing response could not be parsed", err)
		return finish(err)
	}
	result.Items = len(recordings)

	p.setState(StateEmittingItems)
	logger.Info("Listing received", logging.Int("items", len(recordings)))
	if p.handler != nil {
		if err := p.handler(ctx, Items(recordings)); err != nil {
			logger.Error("Cycle handler failed", err)
			return finish(err)
		}
	}

	return finish(nil)
}

// Stats returns counters and the most recent cycle
func (p *Poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		State:        p.State().String(),
		Running:      p.running,
		Cycles:       p.cycles,
		FailedCycles: p.failed,
	}
	if p.lastCycle != nil {
		last := *p.lastCycle
		stats.LastCycle = &last
	}
	if p.running && p.scheduler != nil && p.entryID != 0 {
		if next := p.scheduler.Entry(p.entryID).Next; !next.IsZero() {
			stats.NextCycle = &next
		}
	}
	return stats
}
