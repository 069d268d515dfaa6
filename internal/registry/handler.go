package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"area/internal/domain"
)

// ActionResult is the normalized output of any event handler, webhook parser
// or poller alike. Triggered=false results are silently dropped by callers.
type ActionResult struct {
	Triggered bool
	EventType string
	Payload   map[string]any
	Err       error
}

// Store is the persistence handle handed to handlers and executors. It is
// request-scoped and read-only from the handlers' point of view; the engine
// never mutates credentials.
type Store interface {
	ServiceAccount(ctx context.Context, userID int64, serviceName string) (domain.ServiceAccount, error)
}

// EventHandler turns raw trigger input into zero or one ActionResult.
// Concrete handlers additionally implement WebhookHandler or PollingHandler;
// use the capability helpers on Registry to narrow.
type EventHandler interface {
	ServiceName() string
	ActionKey() string
	ParsePayload(payload map[string]any, headers http.Header) ActionResult
}

// WebhookHandler is an EventHandler driven by inbound webhook deliveries.
type WebhookHandler interface {
	EventHandler
	// WebhookEvents lists the wire event names this handler subscribes to.
	WebhookEvents() []string
	VerifySignature(body []byte, headers http.Header, secret string) bool
	// SetupWebhook registers the remote subscription. Idempotent: existing
	// hooks with the same callback URL are not duplicated.
	SetupWebhook(ctx context.Context, store Store, account domain.ServiceAccount, params map[string]any) error
	CleanupWebhook(ctx context.Context, store Store, account domain.ServiceAccount, params map[string]any) error
}

// PollingHandler is an EventHandler driven by the polling worker. A nil
// result means nothing triggered this tick.
type PollingHandler interface {
	EventHandler
	Poll(ctx context.Context, store Store, userID int64, actionParams map[string]any) (*ActionResult, error)
}

// Executor performs the side-effecting third-party call for a reaction.
type Executor interface {
	Execute(ctx context.Context, store Store, userID int64, parameters map[string]any) error
}

// StatusError is the typed failure executors raise: an HTTP-style status code
// plus message. The dispatch engine treats every code uniformly as "this
// firing failed" and differentiates only for logging.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func NewStatusError(code int, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StateCache keeps the previously observed remote state for polling handlers,
// keyed per user or per (user, sub-resource). It is process-local and lost on
// restart, which re-arms cold-start suppression; a known limitation.
type StateCache interface {
	Previous(key string) (map[string]struct{}, bool)
	Store(key string, state map[string]struct{})
}

type memoryStateCache struct {
	mu sync.Mutex
	m  map[string]map[string]struct{}
}

// NewMemoryStateCache returns the in-process StateCache used in production
// and in tests, which reset it by constructing a fresh one.
func NewMemoryStateCache() StateCache {
	return &memoryStateCache{m: make(map[string]map[string]struct{})}
}

func (c *memoryStateCache) Previous(key string) (map[string]struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[key]
	return s, ok
}

func (c *memoryStateCache) Store(key string, state map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = state
}
