// Package webhook delivers terminal job notifications to caller-supplied
// URLs. Delivery is fire-and-forget with bounded retries; a failed delivery
// never affects the job that triggered it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// payload is the wire shape posted to each target.
type payload struct {
	EventType string       `json:"event_type"`
	JobID     string       `json:"job_id"`
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Data      jobs.Summary `json:"data"`
}

// Delivery is the recorded outcome of one notification to one target.
type Delivery struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Attempts    int       `json:"attempts"`
	Succeeded   bool      `json:"succeeded"`
	LastStatus  int       `json:"last_status,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// DeliveryStore records delivery outcomes for later inspection.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
}

// Dispatcher implements the manager's Notifier. Each target gets its own
// goroutine; Notify returns immediately.
type Dispatcher struct {
	client      *http.Client
	store       DeliveryStore
	maxAttempts int
	backoffBase time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a dispatcher posting with the given per-attempt timeout,
// retrying up to maxAttempts times with jittered exponential backoff. A nil
// store skips delivery recording.
func New(store DeliveryStore, timeout time.Duration, maxAttempts int, backoffBase time.Duration) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		store:       store,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		baseCtx:     ctx,
		stop:        cancel,
	}
}

// Notify posts the terminal summary to every target asynchronously.
func (d *Dispatcher) Notify(targets []string, s jobs.Summary) {
	body, err := json.Marshal(payload{
		EventType: "job." + string(s.State),
		JobID:     s.JobID,
		Status:    string(s.State),
		Timestamp: time.Now().UTC(),
		Data:      s,
	})
	if err != nil {
		slog.Error("failed to encode webhook payload", "job_id", s.JobID, "error", err)
		return
	}

	for _, url := range targets {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.deliver(url, s.JobID, body)
		}(url)
	}
}

func (d *Dispatcher) deliver(url, jobID string, body []byte) {
	delivery := &Delivery{
		ID:    uuid.New().String(),
		JobID: jobID,
		URL:   url,
	}

	backoff := retry.WithMaxRetries(uint64(d.maxAttempts-1), retry.WithJitterPercent(20, retry.NewExponential(d.backoffBase)))
	err := retry.Do(d.baseCtx, backoff, func(ctx context.Context) error {
		delivery.Attempts++
		status, err := d.post(ctx, url, body, delivery.Attempts-1)
		delivery.LastStatus = status
		if err != nil {
			delivery.LastError = err.Error()
			return retry.RetryableError(err)
		}
		delivery.LastError = ""
		return nil
	})

	delivery.Succeeded = err == nil
	delivery.CompletedAt = time.Now().UTC()

	if err != nil {
		slog.Warn("webhook delivery failed",
			"job_id", jobID, "url", url, "attempts", delivery.Attempts, "error", err)
	} else {
		slog.Info("webhook delivered", "job_id", jobID, "url", url, "attempts", delivery.Attempts)
	}

	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.RecordDelivery(ctx, delivery); err != nil {
			slog.Error("failed to record webhook delivery", "job_id", jobID, "error", err)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, retryCount int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mediaspool/1.0")
	req.Header.Set("X-Retry-Count", strconv.Itoa(retryCount))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook target returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Close stops new attempts and waits for in-flight deliveries up to the
// context deadline.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.stop()
		return ctx.Err()
	}
}
