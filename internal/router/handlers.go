package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifybot/internal/access"
	"notifybot/internal/broadcast"
	"notifybot/internal/transport"
	"notifybot/pkg/logx"
	"notifybot/pkg/tgui"
)

const helpText = `Commands:
/addtask <interval> <text> - schedule a recurring notification
  extra lines become message variants, lines like btn:Label|https://url add buttons
/listtask - list scheduled notifications
/deltask <id> - cancel a notification
/edittask <id> <text> - replace the text of a running notification
/addgroup <chat id> - add a destination group
/delgroup <chat id> - remove a destination group
/grant <user id> - allow a user to manage notifications (maintainers only)
/revoke <user id> - withdraw access (maintainers only)
/whitelist - show maintainers, admins and groups
/help - this message`

// handleMessage reports whether the message was a command addressed to us.
func (r *Router) handleMessage(ctx context.Context, m *transport.Message) bool {
	if !strings.HasPrefix(m.Text, "/") {
		return false
	}
	if !m.IsPrivate {
		return false
	}
	if !r.whitelist.HasAccess(m.FromID) {
		r.log.Debug("command from unknown user dropped",
			logx.Int64("from_id", m.FromID),
			logx.String("cmd", commandOf(m.Text)))
		return false
	}

	cmd, rest := splitCommand(m.Text)
	switch cmd {
	case "/addtask":
		r.cmdAddTask(ctx, m, rest)
	case "/listtask":
		r.cmdListTask(ctx, m)
	case "/deltask":
		r.cmdDelTask(ctx, m, rest)
	case "/edittask":
		r.cmdEditTask(ctx, m, rest)
	case "/addgroup":
		r.cmdAddGroup(ctx, m, rest)
	case "/delgroup":
		r.cmdDelGroup(ctx, m, rest)
	case "/grant":
		r.cmdGrant(ctx, m, rest)
	case "/revoke":
		r.cmdRevoke(ctx, m, rest)
	case "/whitelist":
		r.cmdWhitelist(ctx, m)
	case "/help", "/start":
		r.reply(ctx, m, helpText)
	default:
		r.reply(ctx, m, "unknown command, see /help")
	}
	return true
}

func (r *Router) cmdAddTask(ctx context.Context, m *transport.Message, rest string) {
	spec, err := parseTaskSpec(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	groups := r.whitelist.Groups()
	if len(groups) == 0 {
		r.reply(ctx, m, "no destination groups configured, use /addgroup first")
		return
	}
	spec.Targets = make([]transport.ChatTarget, len(groups))
	for i, g := range groups {
		spec.Targets[i] = transport.ChatTarget{ChatID: g}
	}

	id := r.registry.Add(spec)
	r.audit(ctx, m.FromID, "job.add", strconv.FormatUint(id, 10), nil)
	r.reply(ctx, m, fmt.Sprintf("job %d scheduled every %s to %d group(s)",
		id, spec.Interval, len(spec.Targets)))
}

func (r *Router) cmdListTask(ctx context.Context, m *transport.Message) {
	jobs := r.registry.List()
	if len(jobs) == 0 {
		r.reply(ctx, m, "no jobs running")
		return
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "#%d every %s: %s\n", j.ID, j.Interval, j.Skim)
	}
	r.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) cmdDelTask(ctx context.Context, m *transport.Message, rest string) {
	id, err := parseJobID(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	err = r.registry.Remove(id)
	r.audit(ctx, m.FromID, "job.remove", strconv.FormatUint(id, 10), err)
	if errors.Is(err, broadcast.ErrNotFound) {
		r.reply(ctx, m, fmt.Sprintf("job %d does not exist", id))
		return
	}
	r.reply(ctx, m, fmt.Sprintf("job %d cancelled", id))
}

func (r *Router) cmdEditTask(ctx context.Context, m *transport.Message, rest string) {
	idPart, text, _ := strings.Cut(rest, " ")
	id, err := parseJobID(idPart)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.reply(ctx, m, "usage: /edittask <id> <text>")
		return
	}
	err = r.registry.Append(id, text)
	r.audit(ctx, m.FromID, "job.edit", strconv.FormatUint(id, 10), err)
	switch {
	case errors.Is(err, broadcast.ErrNotFound):
		r.reply(ctx, m, fmt.Sprintf("job %d does not exist", id))
	case errors.Is(err, broadcast.ErrQueueFull):
		r.reply(ctx, m, fmt.Sprintf("job %d has pending edits, try again shortly", id))
	default:
		r.reply(ctx, m, fmt.Sprintf("text queued for job %d", id))
	}
}

func (r *Router) cmdAddGroup(ctx context.Context, m *transport.Message, rest string) {
	id, err := parseChatID(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	r.whitelist.AddGroup(id)
	r.audit(ctx, m.FromID, "whitelist.addgroup", strconv.FormatInt(id, 10), nil)
	r.flushWhitelist(ctx)
	r.reply(ctx, m, fmt.Sprintf("group %d added", id))
}

func (r *Router) cmdDelGroup(ctx context.Context, m *transport.Message, rest string) {
	id, err := parseChatID(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	err = r.whitelist.DelGroup(id)
	r.audit(ctx, m.FromID, "whitelist.delgroup", strconv.FormatInt(id, 10), err)
	if errors.Is(err, access.ErrUnknownGroup) {
		r.reply(ctx, m, fmt.Sprintf("group %d is not in the whitelist", id))
		return
	}
	r.flushWhitelist(ctx)
	r.reply(ctx, m, fmt.Sprintf("group %d removed", id))
}

func (r *Router) cmdGrant(ctx context.Context, m *transport.Message, rest string) {
	if !r.whitelist.IsMaintainer(m.FromID) {
		r.reply(ctx, m, "only maintainers can grant access")
		return
	}
	id, err := parseChatID(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	r.whitelist.AddAdmin(id)
	r.audit(ctx, m.FromID, "whitelist.grant", strconv.FormatInt(id, 10), nil)
	r.flushWhitelist(ctx)
	r.reply(ctx, m, fmt.Sprintf("user %d granted access", id))
}

func (r *Router) cmdRevoke(ctx context.Context, m *transport.Message, rest string) {
	if !r.whitelist.IsMaintainer(m.FromID) {
		r.reply(ctx, m, "only maintainers can revoke access")
		return
	}
	id, err := parseChatID(rest)
	if err != nil {
		r.reply(ctx, m, err.Error())
		return
	}
	err = r.whitelist.DelAdmin(id)
	r.audit(ctx, m.FromID, "whitelist.revoke", strconv.FormatInt(id, 10), err)
	if errors.Is(err, access.ErrUnknownAdmin) {
		r.reply(ctx, m, fmt.Sprintf("user %d is not in the whitelist", id))
		return
	}
	r.flushWhitelist(ctx)
	r.reply(ctx, m, fmt.Sprintf("user %d revoked", id))
}

func (r *Router) cmdWhitelist(ctx context.Context, m *transport.Message) {
	snap, _ := r.whitelist.Snapshot()
	r.reply(ctx, m, fmt.Sprintf("Maintainers: %s\nAdmins: %s\nGroups: %s",
		joinIDs(snap.Maintainers), joinIDs(snap.Admins), joinIDs(snap.Groups)))
}

// parseTaskSpec reads "<interval> <text>" from the first line; every further
// line is an extra message variant, unless it starts with "btn:" which adds an
// inline URL button ("btn:Label|https://...").
func parseTaskSpec(rest string) (broadcast.Spec, error) {
	lines := strings.Split(rest, "\n")
	ivPart, text, _ := strings.Cut(strings.TrimSpace(lines[0]), " ")
	iv, err := parseInterval(ivPart)
	if err != nil {
		return broadcast.Spec{}, err
	}

	messages := make([]string, 0, len(lines))
	if text = strings.TrimSpace(text); text != "" {
		messages = append(messages, text)
	}
	kb := tgui.NewInline()
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "btn:"):
			label, url, ok := strings.Cut(strings.TrimPrefix(line, "btn:"), "|")
			if !ok || label == "" || url == "" {
				return broadcast.Spec{}, errors.New("button lines look like btn:Label|https://url")
			}
			kb.Row(tgui.URLBtn(label, url))
		default:
			messages = append(messages, line)
		}
	}
	if len(messages) == 0 {
		return broadcast.Spec{}, errors.New("usage: /addtask <interval> <text>")
	}

	spec := broadcast.Spec{Interval: iv, Messages: messages}
	if !kb.Empty() {
		spec.Buttons = kb.Markup()
	}
	return spec, nil
}

// parseInterval accepts Go duration syntax ("90s", "10m") or a bare number of
// minutes.
func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("usage: /addtask <interval> <text>")
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if n == 0 {
			return 0, errors.New("interval must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("bad interval %q, use e.g. 10m or 90s", s)
	}
	return d, nil
}

func parseJobID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New("job id must be a number")
	}
	return id, nil
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New("chat id must be a number")
	}
	return id, nil
}

func splitCommand(text string) (cmd, rest string) {
	cmd, rest, _ = strings.Cut(text, " ")
	// strip the bot mention from "/cmd@botname"
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(rest)
}

func commandOf(text string) string {
	cmd, _ := splitCommand(text)
	return cmd
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
