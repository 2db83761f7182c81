package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mbd888/sentinel/internal/circuitbreaker"
)

// LogExecutor records directives in the log and reports success. It is the
// default executor when no external collaborator is configured.
type LogExecutor struct {
	logger *slog.Logger
}

// NewLogExecutor creates a log-only executor.
func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) Execute(ctx context.Context, d Directive) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	e.logger.Info("action executed", "kind", d.Kind, "target", d.Target, "idempotency_key", d.IdempotencyKey)
	return Executed(), nil
}

// Notification is the payload delivered by the webhook and pub/sub
// executors.
type Notification struct {
	Kind           string    `json:"kind"`
	Target         string    `json:"target"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Timestamp      time.Time `json:"timestamp"`
}

func notificationFor(d Directive) Notification {
	return Notification{
		Kind:           d.Kind,
		Target:         d.Target,
		IdempotencyKey: d.IdempotencyKey,
		Timestamp:      time.Now().UTC(),
	}
}

// WebhookExecutor POSTs directives as JSON to a fixed URL. Bodies are
// signed with HMAC-SHA256 when a secret is set.
type WebhookExecutor struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookExecutor creates a webhook executor.
func NewWebhookExecutor(url, secret string) *WebhookExecutor {
	return &WebhookExecutor{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (e *WebhookExecutor) Execute(ctx context.Context, d Directive) (Outcome, error) {
	n := notificationFor(d)
	payload, err := json.Marshal(n)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Action", d.Kind)
	req.Header.Set("X-Sentinel-Timestamp", fmt.Sprintf("%d", n.Timestamp.Unix()))
	req.Header.Set("Idempotency-Key", d.IdempotencyKey)
	if e.secret != "" {
		req.Header.Set("X-Sentinel-Signature", Sign(payload, e.secret))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return Executed(), nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Publisher publishes one message. *PubSubTopic satisfies it.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// PubSubTopic publishes to a Google Cloud Pub/Sub topic.
type PubSubTopic struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubTopic connects to projectID and binds topicID.
func NewPubSubTopic(ctx context.Context, projectID, topicID string) (*PubSubTopic, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubTopic{client: client, topic: client.Topic(topicID)}, nil
}

// Publish sends one message and waits for the server ack.
func (t *PubSubTopic) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	res := t.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err := res.Get(ctx)
	return err
}

// Close flushes pending messages and closes the client.
func (t *PubSubTopic) Close() error {
	t.topic.Stop()
	return t.client.Close()
}

// PubSubExecutor publishes directives to a topic.
type PubSubExecutor struct {
	pub Publisher
}

// NewPubSubExecutor creates a pub/sub executor.
func NewPubSubExecutor(pub Publisher) *PubSubExecutor {
	return &PubSubExecutor{pub: pub}
}

func (e *PubSubExecutor) Execute(ctx context.Context, d Directive) (Outcome, error) {
	payload, err := json.Marshal(notificationFor(d))
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal notification: %w", err)
	}
	attrs := map[string]string{
		"kind":            d.Kind,
		"target":          d.Target,
		"idempotency_key": d.IdempotencyKey,
	}
	if err := e.pub.Publish(ctx, payload, attrs); err != nil {
		return Outcome{}, fmt.Errorf("publish: %w", err)
	}
	return Executed(), nil
}

// Multi runs every executor in order and succeeds only if all do. All
// executors are attempted even after a failure.
type Multi []Executor

func (m Multi) Execute(ctx context.Context, d Directive) (Outcome, error) {
	if len(m) == 0 {
		return Outcome{}, ErrNoExecutor
	}
	var errs []error
	for _, e := range m {
		if _, err := e.Execute(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return Outcome{}, errors.Join(errs...)
	}
	return Executed(), nil
}

// Route sends directives whose kind starts with Prefix to Executor.
type Route struct {
	Prefix   string
	Executor Executor
}

// Router dispatches by kind prefix. The first matching route wins;
// unmatched kinds go to the fallback.
type Router struct {
	routes   []Route
	fallback Executor
}

// NewRouter creates a router. fallback may be nil, in which case unmatched
// kinds fail with ErrNoExecutor.
func NewRouter(fallback Executor, routes ...Route) *Router {
	return &Router{routes: routes, fallback: fallback}
}

func (r *Router) Execute(ctx context.Context, d Directive) (Outcome, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(d.Kind, rt.Prefix) {
			return rt.Executor.Execute(ctx, d)
		}
	}
	if r.fallback == nil {
		return Outcome{}, fmt.Errorf("%w %q", ErrNoExecutor, d.Kind)
	}
	return r.fallback.Execute(ctx, d)
}

// Guarded wraps an executor with a per-kind circuit breaker. While a kind's
// circuit is open its directives fail fast with ErrCircuitOpen.
type Guarded struct {
	next    Executor
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps next with breaker.
func NewGuarded(next Executor, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Execute(ctx context.Context, d Directive) (Outcome, error) {
	key := "action:" + d.Kind
	if !g.breaker.Allow(key) {
		return Outcome{}, ErrCircuitOpen
	}
	out, err := g.next.Execute(ctx, d)
	if err != nil || out.Status == StatusFailed {
		g.breaker.RecordFailure(key)
		return out, err
	}
	g.breaker.RecordSuccess(key)
	return out, nil
}
