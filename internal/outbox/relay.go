package outbox

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"
)

// Relay drains pending event_log rows to the learning ingest endpoint.
// Delivery is at-least-once: an entry is only marked published after a
// 2xx response, and one stuck entry stops the batch so per-stream order
// is preserved across ticks.
type Relay struct {
	repo      *Repo
	client    *resty.Client
	ingestURL string
	batchSize int

	mu      sync.Mutex
	running bool
}

func NewRelay(repo *Repo, ingestURL string, timeout time.Duration) *Relay {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Relay{repo: repo, client: client, ingestURL: ingestURL, batchSize: 100}
}

// Start schedules Drain on the given cron spec (e.g. "@every 2s") and
// returns the scheduler so the caller can Stop it on shutdown.
func (r *Relay) Start(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() {
		if err := r.Drain(context.Background()); err != nil {
			log.Printf("[outbox-relay] drain: %v", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// Drain pushes pending entries in offset order. Overlapping ticks are
// skipped rather than queued.
func (r *Relay) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	entries, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.publish(ctx, e); err != nil {
			_ = r.repo.MarkFailed(ctx, e.Offset, err.Error())
			log.Printf("[outbox-relay] offset=%d type=%s: %v", e.Offset, e.Envelope.Type, err)
			return nil
		}
		if err := r.repo.MarkPublished(ctx, e.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, e Entry) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(e.Envelope).
		Post(r.ingestURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ingest returned %s", resp.Status())
	}
	return nil
}
