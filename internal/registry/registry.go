// Package registry holds the two-level lookup from (service name, technical
// key) to event handlers and reaction executors, plus the reverse index from
// wire event names to subscribed handlers.
package registry

// Registry is populated at startup by the service packages and read-only
// afterwards; lookups are therefore safe without locking.
type Registry struct {
	handlers  map[string]map[string]EventHandler
	events    map[string]map[string][]EventHandler
	executors map[string]map[string]Executor
}

func New() *Registry {
	return &Registry{
		handlers:  make(map[string]map[string]EventHandler),
		events:    make(map[string]map[string][]EventHandler),
		executors: make(map[string]map[string]Executor),
	}
}

// RegisterHandler indexes a handler under (service, action key). Webhook
// handlers are additionally indexed under every wire event they subscribe to,
// so one inbound event kind can fan out to several handlers.
func (r *Registry) RegisterHandler(h EventHandler) {
	svc := h.ServiceName()
	if r.handlers[svc] == nil {
		r.handlers[svc] = make(map[string]EventHandler)
	}
	r.handlers[svc][h.ActionKey()] = h

	wh, ok := h.(WebhookHandler)
	if !ok {
		return
	}
	if r.events[svc] == nil {
		r.events[svc] = make(map[string][]EventHandler)
	}
	for _, evt := range wh.WebhookEvents() {
		r.events[svc][evt] = append(r.events[svc][evt], h)
	}
}

func (r *Registry) RegisterExecutor(serviceName, reactionKey string, ex Executor) {
	if r.executors[serviceName] == nil {
		r.executors[serviceName] = make(map[string]Executor)
	}
	r.executors[serviceName][reactionKey] = ex
}

// Handler returns the event handler for (service, key), or false when the
// pair is unknown. Callers log and skip on absence.
func (r *Registry) Handler(serviceName, actionKey string) (EventHandler, bool) {
	h, ok := r.handlers[serviceName][actionKey]
	return h, ok
}

// HandlersForEvent returns every handler subscribed to a wire event name.
func (r *Registry) HandlersForEvent(serviceName, wireEvent string) []EventHandler {
	return r.events[serviceName][wireEvent]
}

// WebhookHandler narrows Handler to webhook capability.
func (r *Registry) WebhookHandler(serviceName, actionKey string) (WebhookHandler, bool) {
	h, ok := r.handlers[serviceName][actionKey]
	if !ok {
		return nil, false
	}
	wh, ok := h.(WebhookHandler)
	return wh, ok
}

// PollingHandler narrows Handler to polling capability.
func (r *Registry) PollingHandler(serviceName, actionKey string) (PollingHandler, bool) {
	h, ok := r.handlers[serviceName][actionKey]
	if !ok {
		return nil, false
	}
	ph, ok := h.(PollingHandler)
	return ph, ok
}

// Executor returns the executor for (service, reaction key), or false.
func (r *Registry) Executor(serviceName, reactionKey string) (Executor, bool) {
	ex, ok := r.executors[serviceName][reactionKey]
	return ex, ok
}

// Services lists every service name with at least one registered handler or
// executor.
func (r *Registry) Services() []string {
	seen := make(map[string]struct{})
	for svc := range r.handlers {
		seen[svc] = struct{}{}
	}
	for svc := range r.executors {
		seen[svc] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for svc := range seen {
		out = append(out, svc)
	}
	return out
}
