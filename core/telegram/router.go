package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

// updateRouter is the only getUpdates poller for one bot. Polling with an
// offset confirms every earlier update, so prompts sharing a bot register a
// waiter here instead of polling on their own.
type updateRouter struct {
	api          *apiClient
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	offset  int64
	running bool
	waiters map[string]chan buttonPress
}

type buttonPress struct {
	callback *callbackQuery
	decision schemaconsent.Decision
}

var routers = struct {
	sync.Mutex
	byBot map[string]*updateRouter
}{byBot: map[string]*updateRouter{}}

// routerFor returns the router for api's bot endpoint, creating it with the
// caller's transport settings on first use.
func routerFor(api *apiClient, pollInterval time.Duration, logger *slog.Logger) *updateRouter {
	routers.Lock()
	defer routers.Unlock()
	router, ok := routers.byBot[api.base]
	if !ok {
		router = &updateRouter{
			api:          api,
			pollInterval: pollInterval,
			logger:       logger,
			waiters:      map[string]chan buttonPress{},
		}
		routers.byBot[api.base] = router
	}
	return router
}

// subscribe registers a waiter for requestID. The first valid press for that
// request is delivered once; release must be called when the prompt ends.
func (r *updateRouter) subscribe(requestID string) (<-chan buttonPress, func()) {
	presses := make(chan buttonPress, 1)
	r.mu.Lock()
	r.waiters[requestID] = presses
	r.mu.Unlock()
	return presses, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.waiters[requestID] == presses {
			delete(r.waiters, requestID)
		}
	}
}

// start launches the poller unless it is already running. It stops on its own
// once no waiters remain.
func (r *updateRouter) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || len(r.waiters) == 0 {
		return
	}
	r.running = true
	go r.run()
}

func (r *updateRouter) run() {
	failures := 0
	for {
		r.mu.Lock()
		if len(r.waiters) == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		offset := r.offset
		r.mu.Unlock()

		updates, err := r.api.getUpdates(context.Background(), offset, r.pollInterval)
		if err != nil {
			failures++
			r.logger.Warn("telegram poll failed", "attempt", failures, "error", err)
			time.Sleep(r.pollInterval)
			continue
		}
		failures = 0
		r.dispatch(updates)
		if len(updates) == 0 && r.pollInterval < time.Second {
			time.Sleep(r.pollInterval)
		}
	}
}

func (r *updateRouter) dispatch(updates []update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range updates {
		if item.UpdateID >= r.offset {
			r.offset = item.UpdateID + 1
		}
		requestID, decision, ok := parseCallback(item.CallbackQuery)
		if !ok {
			continue
		}
		waiter, ok := r.waiters[requestID]
		if !ok {
			r.logger.Debug("telegram callback has no waiting prompt", "request_id", requestID)
			continue
		}
		select {
		case waiter <- buttonPress{callback: item.CallbackQuery, decision: decision}:
		default:
		}
	}
}

// parseCallback accepts only acp:approve:<id> and acp:deny:<id>.
func parseCallback(callback *callbackQuery) (string, schemaconsent.Decision, bool) {
	if callback == nil {
		return "", "", false
	}
	parts := strings.Split(callback.Data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[2] == "" {
		return "", "", false
	}
	switch parts[1] {
	case actionApprove:
		return parts[2], schemaconsent.DecisionApproved, true
	case actionDeny:
		return parts[2], schemaconsent.DecisionDenied, true
	}
	return "", "", false
}
