package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nodespace/core/internal/logging"
	"github.com/nodespace/core/internal/store"
)

// BatchSize is N in "fetch up to N stale embeddings" (spec §4.5 default).
const BatchSize = 10

// concurrency bounds how many chunks within one batch embed in parallel;
// grounded on the teacher-adjacent corpus's errgroup fan-out pattern
// (MrWong99-glyphoxa/internal/hotctx/assembler.go) rather than the teacher
// itself, which has no background worker of its own.
const concurrency = 4

// Processor is the Embedding Processor (spec §4.5): an event-driven
// background worker that drains stale embedding rows until a batch comes
// back empty.
type Processor struct {
	svc      *Service
	st       *store.Store
	waker    *Waker
	shutdown chan struct{}
}

// NewProcessor constructs a Processor sharing svc's Store.
func NewProcessor(svc *Service, st *store.Store, waker *Waker) *Processor {
	return &Processor{svc: svc, st: st, waker: waker, shutdown: make(chan struct{})}
}

// Shutdown signals the processor to stop after its current batch.
func (p *Processor) Shutdown() { close(p.shutdown) }

// Run blocks, draining on every wake until Shutdown is called. Intended to
// be launched as `go processor.Run(ctx)`.
func (p *Processor) Run(ctx context.Context) {
	log := logging.Component("embedding-processor")
	for {
		// Biased select: shutdown always wins a tie (spec §4.5 "checked
		// before every draining iteration").
		select {
		case <-p.shutdown:
			return
		default:
		}

		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case <-p.waker.channel():
			if err := p.drainUntilEmpty(ctx); err != nil {
				log.Error().Err(err).Msg("drain cycle halted")
			}
		}
	}
}

// drainUntilEmpty repeatedly fetches and processes batches of stale
// embeddings until a fetch returns zero rows (spec §4.5). An error within a
// batch halts that cycle without stopping the worker; the next wake retries.
func (p *Processor) drainUntilEmpty(ctx context.Context) error {
	for {
		select {
		case <-p.shutdown:
			return nil
		default:
		}

		batch, err := p.st.FetchStaleEmbeddings(ctx, BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(concurrency)
		for _, rec := range batch {
			rec := rec
			eg.Go(func() error {
				// Individual embed failures are recorded on the row (via
				// MarkEmbeddingError inside ProcessOneStale) and do not
				// abort the group; only a Store-level error propagates.
				return p.svc.ProcessOneStale(egCtx, rec)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
}
