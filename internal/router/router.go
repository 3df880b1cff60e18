// Package router turns inbound chat messages into registry and whitelist
// operations. It is the command-handling collaborator on top of the broadcast
// core: parsing, access control, and human-readable replies live here, typed
// errors stay below.
package router

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"notifybot/internal/access"
	"notifybot/internal/broadcast"
	"notifybot/internal/storage"
	"notifybot/internal/transport"
	"notifybot/pkg/logx"
)

const handleTimeout = 10 * time.Second

type Router struct {
	sender    transport.Sender
	registry  *broadcast.Registry
	whitelist *access.Whitelist
	store     storage.Store // nil when persistence is disabled
	log       logx.Logger

	wg sync.WaitGroup
}

func New(sender transport.Sender, reg *broadcast.Registry, wl *access.Whitelist, store storage.Store, log logx.Logger) *Router {
	return &Router{
		sender:    sender,
		registry:  reg,
		whitelist: wl,
		store:     store,
		log:       log,
	}
}

// Start consumes updates until ctx is cancelled or the channel closes.
func (r *Router) Start(ctx context.Context, updates <-chan transport.Update) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				if up.Message == nil {
					continue
				}
				r.dispatch(ctx, up.Message)
			}
		}
	}()
}

// Wait blocks until the update loop has exited.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) dispatch(ctx context.Context, m *transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command handler",
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	start := time.Now()
	handled := r.handleMessage(cctx, m)
	if handled {
		r.log.Debug("command handled",
			logx.Int64("from_id", m.FromID),
			logx.String("cmd", commandOf(m.Text)),
			logx.Duration("dur", time.Since(start)))
	}
}

func (r *Router) reply(ctx context.Context, m *transport.Message, text string) {
	to := transport.ChatTarget{ChatID: m.ChatID}
	if _, err := r.sender.SendText(ctx, to, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

// audit records an operator action; failures are logged, never surfaced.
func (r *Router) audit(ctx context.Context, actorID int64, action, target string, opErr error) {
	if r.store == nil {
		return
	}
	e := storage.AuditEntry{
		ActorID: actorID,
		Action:  action,
		Target:  target,
		OK:      opErr == nil,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

// flushWhitelist persists the current whitelist; best effort.
func (r *Router) flushWhitelist(ctx context.Context) {
	if r.store == nil {
		return
	}
	snap, _ := r.whitelist.Snapshot()
	if err := r.store.SaveWhitelist(ctx, snap); err != nil {
		r.log.Warn("whitelist save failed", logx.Err(err))
	}
}
