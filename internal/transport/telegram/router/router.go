// Package router turns incoming Telegram updates into lifecycle
// operations and renders the replies.
package router

import (
	"context"
	"errors"
	"time"

	"gtbot/internal/meeting"
	rtsup "gtbot/internal/runtime/supervisor"
	kit "gtbot/internal/transport"
	logx "gtbot/pkg/logx"
)

const (
	updateQueueSize = 128
	handleTimeout   = 15 * time.Second
)

var commandMenu = []kit.BotCommand{
	{Command: "upcoming_meetings", Description: "List upcoming meetings"},
	{Command: "my_meetings", Description: "Meetings you host or attend"},
	{Command: "register", Description: "Register for a meeting"},
	{Command: "unregister", Description: "Cancel your registration"},
	{Command: "create_meeting", Description: "Create a new meeting"},
	{Command: "edit_meeting", Description: "Edit a meeting you host"},
	{Command: "cancel_meeting", Description: "Cancel a meeting you host"},
	{Command: "help", Description: "How to use this bot"},
}

type Router struct {
	adapter kit.Adapter
	svc     *meeting.Service
	render  *Renderer
	loc     *time.Location
	log     logx.Logger

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

func New(adapter kit.Adapter, svc *meeting.Service, render *Renderer, loc *time.Location, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Router{adapter: adapter, svc: svc, render: render, loc: loc, log: log}
}

// Start begins polling and dispatching. The command menu update is
// best-effort; Telegram hiccups there must not block startup.
func (r *Router) Start(ctx context.Context) error {
	r.updates = make(chan kit.Update, updateQueueSize)
	if err := r.adapter.Start(ctx, r.updates); err != nil {
		return err
	}
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "router"))))
	r.sup.Go0("dispatch", r.dispatchLoop)

	if err := r.adapter.SetCommands(ctx, commandMenu); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
	return nil
}

func (r *Router) Stop(ctx context.Context) error {
	err := r.adapter.Stop(ctx)
	if r.sup != nil {
		if werr := r.sup.Stop(ctx); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (r *Router) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-r.updates:
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message != nil {
					r.handleMessage(hctx, up.Message)
				}
			case kit.UpdateCallback:
				if up.Callback != nil {
					r.handleCallback(hctx, up.Callback)
				}
			}
			cancel()
		}
	}
}

func userFromMessage(m *kit.Message) meeting.User {
	return meeting.User{ID: m.FromID, Name: m.FromName, Username: m.FromUsername}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) {
	if err := r.adapter.SendText(ctx, chatID, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, args := splitCommand(m.Text)
	if cmd == "" {
		return
	}

	switch cmd {
	case "start", "help":
		r.reply(ctx, m.ChatID, r.render.Help(), nil)
	case "create_meeting":
		r.handleCreate(ctx, m, args)
	case "edit_meeting":
		r.handleEdit(ctx, m, args)
	case "cancel_meeting":
		r.handleCancel(ctx, m, args)
	case "register":
		r.handleRegister(ctx, m, args)
	case "unregister":
		r.handleUnregister(ctx, m, args)
	case "upcoming_meetings":
		r.handleUpcoming(ctx, m)
	case "my_meetings":
		r.handleMine(ctx, m)
	default:
		r.reply(ctx, m.ChatID, "Unknown command. Try /help.", nil)
	}
}

func (r *Router) handleCreate(ctx context.Context, m *kit.Message, args string) {
	params, err := parseCreateArgs(args, r.loc)
	if err != nil {
		r.reply(ctx, m.ChatID, err.Error(), nil)
		return
	}
	created, err := r.svc.Create(ctx, userFromMessage(m), params)
	if err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, r.render.Created(created), nil)
}

func (r *Router) handleEdit(ctx context.Context, m *kit.Message, args string) {
	id, patch, err := parseEditArgs(args, r.loc)
	if err != nil {
		r.reply(ctx, m.ChatID, err.Error(), nil)
		return
	}
	updated, err := r.svc.Edit(ctx, m.FromID, id, patch)
	if err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, "Updated.\n\n"+r.detailsFor(ctx, updated), nil)
}

func (r *Router) handleCancel(ctx context.Context, m *kit.Message, args string) {
	id, reason, err := parseCancelArgs(args)
	if err != nil {
		r.reply(ctx, m.ChatID, err.Error(), nil)
		return
	}
	if err := r.svc.Cancel(ctx, m.FromID, id, reason); err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, "Meeting canceled. Everyone registered has been notified.", nil)
}

func (r *Router) handleRegister(ctx context.Context, m *kit.Message, args string) {
	id, err := parseMeetingID(args)
	if err != nil {
		r.reply(ctx, m.ChatID, err.Error(), nil)
		return
	}
	r.reply(ctx, m.ChatID, r.register(ctx, userFromMessage(m), id), nil)
}

func (r *Router) handleUnregister(ctx context.Context, m *kit.Message, args string) {
	id, err := parseMeetingID(args)
	if err != nil {
		r.reply(ctx, m.ChatID, err.Error(), nil)
		return
	}
	if err := r.svc.Unregister(ctx, m.FromID, id); err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, "You are off the list. Hope to see you another time!", nil)
}

func (r *Router) handleUpcoming(ctx context.Context, m *kit.Message) {
	ms, err := r.svc.ListUpcoming(ctx)
	if err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	var opt *kit.SendOptions
	if kb := listKeyboard(ms); kb != nil {
		opt = &kit.SendOptions{ReplyMarkup: kb}
	}
	r.reply(ctx, m.ChatID, r.render.MeetingList("Upcoming meetings:", ms), opt)
}

func (r *Router) handleMine(ctx context.Context, m *kit.Message) {
	ms, err := r.svc.ListMine(ctx, m.FromID)
	if err != nil {
		r.reply(ctx, m.ChatID, r.errorText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, r.render.MeetingList("Your meetings:", ms), nil)
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, id, err := parseCallback(cb.Data)
	if err != nil {
		r.log.Debug("callback ignored", logx.String("data", cb.Data), logx.Err(err))
		r.answer(ctx, cb.ID, "")
		return
	}

	user := meeting.User{ID: cb.FromID, Name: cb.FromName, Username: cb.FromUsername}
	switch action {
	case "register":
		text := r.register(ctx, user, id)
		r.answer(ctx, cb.ID, "")
		r.reply(ctx, cb.ChatID, text, nil)
	case "unregister":
		if err := r.svc.Unregister(ctx, cb.FromID, id); err != nil {
			r.answer(ctx, cb.ID, r.errorText(err))
			return
		}
		r.answer(ctx, cb.ID, "Registration canceled.")
	case "details":
		m, err := r.svc.Get(ctx, id)
		if err != nil {
			r.answer(ctx, cb.ID, r.errorText(err))
			return
		}
		r.answer(ctx, cb.ID, "")
		r.reply(ctx, cb.ChatID, r.detailsFor(ctx, m), &kit.SendOptions{ReplyMarkup: meetingKeyboard(m)})
	default:
		r.answer(ctx, cb.ID, "")
	}
}

func (r *Router) register(ctx context.Context, user meeting.User, meetingID int64) string {
	res, err := r.svc.Register(ctx, user, meetingID)
	if err != nil {
		return r.errorText(err)
	}
	m, err := r.svc.Get(ctx, meetingID)
	if err != nil {
		return r.errorText(err)
	}
	return r.render.Registered(m, res)
}

func (r *Router) detailsFor(ctx context.Context, m meeting.Meeting) string {
	host, err := r.svc.GetUser(ctx, m.HostID)
	if err != nil {
		host = meeting.User{ID: m.HostID}
	}
	confirmed, err := r.svc.ConfirmedCount(ctx, m.ID)
	if err != nil {
		confirmed = 0
	}
	waitlisted, err := r.svc.WaitlistSize(ctx, m.ID)
	if err != nil {
		waitlisted = 0
	}
	return r.render.Details(m, host, confirmed, waitlisted)
}

func (r *Router) answer(ctx context.Context, callbackID, text string) {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
}

// errorText maps service errors to user-facing replies. Unexpected
// errors are logged and masked.
func (r *Router) errorText(err error) string {
	var ie *meeting.InvalidInputError
	switch {
	case errors.As(err, &ie):
		return ie.Reason
	case errors.Is(err, meeting.ErrNotFound):
		return "I could not find that meeting."
	case errors.Is(err, meeting.ErrForbidden):
		return "Only the host or an admin can do that."
	case errors.Is(err, meeting.ErrMeetingCanceled):
		return "That meeting has been canceled."
	case errors.Is(err, meeting.ErrAlreadyRegistered):
		return "You are already registered for this meeting."
	case errors.Is(err, meeting.ErrNotRegistered):
		return "You are not registered for this meeting."
	default:
		r.log.Error("command failed", logx.Err(err))
		return "Something went wrong, please try again later."
	}
}
