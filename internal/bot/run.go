package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/KafClaw/communa/internal/bus"
)

// Run consumes inbound updates until ctx is done, handling each in its own
// goroutine. It returns after in-flight handlers finish.
func (r *Router) Run(ctx context.Context, messageBus *bus.MessageBus) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		u, err := messageBus.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.dispatch(context.WithoutCancel(ctx), u)
		}()
	}
}

// dispatch handles one update; errors and panics end in a log line and an
// apology to the chat.
func (r *Router) dispatch(ctx context.Context, u *bus.Update) {
	logger := slog.With("trace_id", u.TraceID, "update_id", u.ID)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Router: handler panic", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			r.apologize(ctx, u)
		}
	}()
	if err := r.Handle(ctx, u); err != nil {
		logger.Error("Router: handler failed", "error", err)
		r.apologize(ctx, u)
	}
}
