package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"notifybot/internal/transport"
	"notifybot/pkg/logx"
)

// job is the single-owner state of one running event loop. After newJob the
// struct is touched only by its own goroutine; external callers reach it
// through the edit queue and the cancellation context held by the registry.
type job struct {
	id       uint64
	interval time.Duration
	messages []string
	opt      *transport.SendOptions
	targets  []transport.ChatTarget
	edits    <-chan editRequest

	sender transport.Sender
	log    logx.Logger
}

func newJob(id uint64, spec Spec, edits <-chan editRequest, sender transport.Sender, log logx.Logger) *job {
	j := &job{
		id:       id,
		interval: spec.Interval,
		messages: append([]string(nil), spec.Messages...),
		targets:  append([]transport.ChatTarget(nil), spec.Targets...),
		edits:    edits,
		sender:   sender,
		log:      log.With(logx.Uint64("job", id)),
	}
	if spec.Buttons != nil {
		j.opt = &transport.SendOptions{ReplyMarkup: spec.Buttons}
	}
	return j
}

// run is the job event loop. It exits on cancellation, or when the edit queue
// is closed without one (an abnormal path: the owning registry entry is gone).
func (j *job) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Debug("job loop started",
		logx.Duration("interval", j.interval),
		logx.Int("targets", len(j.targets)))

	for {
		select {
		case <-ctx.Done():
			j.log.Info("job stopped")
			return

		case req, ok := <-j.edits:
			if !ok {
				j.log.Error("edit queue closed without cancellation; stopping job")
				return
			}
			j.messages = append(j.messages, req.text)
			j.log.Debug("message variant appended", logx.Int("variants", len(j.messages)))

		case <-ticker.C:
			j.deliverRound(ctx)
		}
	}
}

// deliverRound sends the current message to every target concurrently and
// waits for all sends to finish. The barrier keeps rounds strictly sequential
// within one job.
func (j *job) deliverRound(ctx context.Context) {
	text := j.messages[0]

	var wg sync.WaitGroup
	for _, to := range j.targets {
		wg.Add(1)
		go func(to transport.ChatTarget) {
			defer wg.Done()
			if _, err := j.sender.SendText(ctx, to, text, j.opt); err != nil {
				// An in-flight round may race job removal; that is not a
				// delivery failure worth warning about.
				if errors.Is(err, context.Canceled) {
					j.log.Debug("send aborted", logx.Int64("chat_id", to.ChatID), logx.Err(err))
					return
				}
				j.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			}
		}(to)
	}
	wg.Wait()
}
