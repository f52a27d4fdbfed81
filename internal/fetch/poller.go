package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/pipeline"
)

// Processor is the slice of the ingestion pipeline the poller needs.
type Processor interface {
	ProcessRaw(ctx context.Context, hint string, raws []map[string]any) (*pipeline.Report, error)
}

// Poller periodically pulls complete feed snapshots from the vendor
// API and hands them to the pipeline. It is the fallback ingestion path
// for feeds that do not deliver webhooks.
type Poller struct {
	client   *Client
	pipeline Processor
	feeds    []string
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(client *Client, p Processor, feeds []string, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		pipeline: p,
		feeds:    feeds,
		interval: interval,
		log:      slog.Default(),
	}
}

// Run polls immediately, then on every tick until the context is
// cancelled. A failed cycle is logged and retried on the next tick; it
// never stops the poller.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("feed poller started", "feeds", p.feeds, "interval", p.interval)

	p.runCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("feed poller stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle fetches and ingests each configured feed once. Feeds are
// independent: one failing does not skip the rest.
func (p *Poller) runCycle(ctx context.Context) {
	start := time.Now()
	for _, feed := range p.feeds {
		if ctx.Err() != nil {
			return
		}

		raws, err := p.client.FetchAll(ctx, feed)
		if err != nil {
			p.log.Error("feed fetch failed", "feed", feed, "error", err)
			continue
		}

		report, err := p.pipeline.ProcessRaw(ctx, feed, raws)
		if err != nil {
			p.log.Error("feed ingest failed", "feed", feed, "error", err)
			continue
		}
		p.log.Info("feed ingested",
			"feed", feed,
			"batch_id", report.BatchID,
			"records", report.Records(),
			"failed", report.Failed(),
		)
	}
	p.log.Debug("poll cycle completed", "duration_ms", time.Since(start).Milliseconds())
}
