// Package pipeline processes the recordings of one poll cycle: claim each id in
// the ledger, route it, download it and hand the file to the relay uploader.
package pipeline

import (
	"context"
	"iter"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"recording-relay/internal/common/errors"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/models"
)

// Claimer records recording ids exactly once
type Claimer interface {
	TryClaim(ctx context.Context, id string) (bool, error)
}

// Router picks the destination of a recording
type Router interface {
	Route(item models.Recording) (models.Destination, bool)
}

// Fetcher downloads a recording and returns the published path
type Fetcher interface {
	Fetch(ctx context.Context, item models.Recording, dest models.Destination) (string, error)
}

// Publisher accepts published files for relay
type Publisher interface {
	Enqueue(path string) bool
}

// Stats counts item outcomes since start
type Stats struct {
	Claimed      int64 `json:"claimed"`
	Duplicates   int64 `json:"duplicates"`
	Unmatched    int64 `json:"unmatched"`
	Fetched      int64 `json:"fetched"`
	FetchFailed  int64 `json:"fetch_failed"`
	LedgerErrors int64 `json:"ledger_errors"`
}

// Processor handles cycles. Claims run in listing order; downloads run in
// parallel up to the configured concurrency.
type Processor struct {
	ledger      Claimer
	router      Router
	fetcher     Fetcher
	publishers  map[string]Publisher
	concurrency int
	logger      logging.Logger

	claimed      atomic.Int64
	duplicates   atomic.Int64
	unmatched    atomic.Int64
	fetched      atomic.Int64
	fetchFailed  atomic.Int64
	ledgerErrors atomic.Int64
}

// New creates a processor. publishers is keyed by destination name; a
// destination without one keeps its files staged.
func New(ledger Claimer, router Router, fetcher Fetcher, publishers map[string]Publisher, concurrency int, logger logging.Logger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		ledger:      ledger,
		router:      router,
		fetcher:     fetcher,
		publishers:  publishers,
		concurrency: concurrency,
		logger:      logging.OrGlobal(logger).WithFields(logging.String("component", "pipeline")),
	}
}

// Process consumes one cycle's items. Per-item failures are logged and never
// stop the cycle. A claim is not rolled back when the download fails.
// Cancelling ctx stops further claims; downloads already claimed still run to
// completion before Process returns.
func (p *Processor) Process(ctx context.Context, items iter.Seq[models.Recording]) error {
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for item := range items {
		if ctx.Err() != nil {
			break
		}

		itemCtx := logging.ContextWithRecordingID(ctx, item.ID)
		logger := p.logger.WithContext(itemCtx)

		if item.ID == "" {
			logger.Warn("Recording without id skipped", logging.String("caller", item.Caller))
			continue
		}

		claimed, err := p.ledger.TryClaim(itemCtx, item.ID)
		if err != nil {
			p.ledgerErrors.Add(1)
			logger.Error("Ledger claim failed, recording left for the next cycle", err)
			continue
		}
		if !claimed {
			p.duplicates.Add(1)
			logger.Debug("Recording skipped", logging.Err(errors.ClaimDuplicateError(item.ID)))
			continue
		}
		p.claimed.Add(1)

		dest, ok := p.router.Route(item)
		if !ok {
			p.unmatched.Add(1)
			logger.Info("Recording dropped", logging.Err(errors.RouteUnmatchedError(item.ID)),
				logging.String("owner_extension", item.OwnerExtension))
			continue
		}

		// A claimed item is finished even when the cycle is cancelled; the
		// client timeout bounds it.
		deliverCtx := context.WithoutCancel(itemCtx)
		g.Go(func() error {
			p.deliver(deliverCtx, logger, item, dest)
			return nil
		})
	}

	_ = g.Wait()
	return nil
}

func (p *Processor) deliver(ctx context.Context, logger logging.Logger, item models.Recording, dest models.Destination) {
	path, err := p.fetcher.Fetch(ctx, item, dest)
	if err != nil {
		p.fetchFailed.Add(1)
		logger.Error("Download failed, recording dropped", err, logging.String("destination", dest.Name))
		return
	}
	p.fetched.Add(1)

	if pub, ok := p.publishers[dest.Name]; ok && pub != nil {
		pub.Enqueue(path)
	}
}

// Stats returns item counters
func (p *Processor) Stats() Stats {
	return Stats{
		Claimed:      p.claimed.Load(),
		Duplicates:   p.duplicates.Load(),
		Unmatched:    p.unmatched.Load(),
		Fetched:      p.fetched.Load(),
		FetchFailed:  p.fetchFailed.Load(),
		LedgerErrors: p.ledgerErrors.Load(),
	}
}
