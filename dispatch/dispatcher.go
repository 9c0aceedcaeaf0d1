// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package dispatch drives the outbound-call workflow from provider callback
// events.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/model"
	"github.com/sprucehealth/agentbridge/session"
)

// ErrStaleEvent is returned for events that belong to a call other than the
// live one
var ErrStaleEvent = errors.New("event does not belong to the active call")

// Commands is the subset of the command issuer the dispatcher drives
type Commands interface {
	PlaceOutboundCall(ctx context.Context, targetNumber, callbackURL string) (*session.Session, error)
	PlayPrompt(ctx context.Context, media gateway.Media, text string, opCtx model.OperationContext)
	TransferToAgent(ctx context.Context, sess *session.Session) error
	HangUp(ctx context.Context, sess *session.Session)
}

// Prompts are the fixed texts played by the workflow
type Prompts struct {
	Greeting       string
	TransferFailed string
}

// DefaultPrompts are used when none are configured
var DefaultPrompts = Prompts{
	Greeting:       "We are connecting you to an agent.",
	TransferFailed: "Seems we can't connect you right now.",
}

// Dispatcher owns the call session and reacts to callback events
type Dispatcher struct {
	mu          sync.Mutex
	store       *session.Store
	commands    Commands
	prompts     Prompts
	callbackURI string
	logger      *zap.Logger
	newID       func() string
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPrompts overrides the default prompts. Empty fields keep the default.
func WithPrompts(p Prompts) Option {
	return func(d *Dispatcher) {
		if p.Greeting != "" {
			d.prompts.Greeting = p.Greeting
		}
		if p.TransferFailed != "" {
			d.prompts.TransferFailed = p.TransferFailed
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithIDGenerator replaces the callback context id generator
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		d.newID = fn
	}
}

// New creates a dispatcher. callbackURI is the public base URL under which
// /api/callbacks/{contextId} is reachable.
func New(store *session.Store, commands Commands, callbackURI string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		commands:    commands,
		prompts:     DefaultPrompts,
		callbackURI: strings.TrimRight(callbackURI, "/"),
		logger:      zap.NewNop(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the session store
func (d *Dispatcher) Store() *session.Store {
	return d.store
}

// CallbackURL returns the callback URL for a call attempt
func (d *Dispatcher) CallbackURL(contextID string) string {
	return d.callbackURI + "/api/callbacks/" + url.PathEscape(contextID)
}

// PlaceCall starts a new outbound call, replacing any previous session.
// message overrides the greeting prompt when non-empty. Event handling waits
// until the new session is stored so early callbacks are not lost.
func (d *Dispatcher) PlaceCall(ctx context.Context, phoneNumber, message string) (*session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	contextID := d.newID()
	sess, err := d.commands.PlaceOutboundCall(ctx, phoneNumber, d.CallbackURL(contextID))
	if err != nil {
		return nil, err
	}
	sess.ContextID = contextID
	sess.Greeting = d.prompts.Greeting
	if message != "" {
		sess.Greeting = message
	}

	d.store.Start(sess)

	d.logger.Info("Call session started",
		zap.String("context_id", contextID),
		zap.String("call_connection_id", sess.ConnectionID))
	return sess, nil
}

// DispatchBatch handles every event of a webhook batch in order. Failures
// are logged; webhook deliveries are always acknowledged.
func (d *Dispatcher) DispatchBatch(ctx context.Context, contextID string, events []model.CallbackEvent) {
	for _, ev := range events {
		if err := d.Dispatch(ctx, contextID, ev); err != nil {
			d.logger.Warn("Callback event not handled",
				zap.String("context_id", contextID),
				zap.String("event_type", ev.Type),
				zap.Error(err))
		}
	}
}

// Dispatch applies one event to the workflow. contextID is the identifier
// from the callback URL; an empty value skips that check.
func (d *Dispatcher) Dispatch(ctx context.Context, contextID string, ev model.CallbackEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	logger := d.logger.With(
		zap.String("context_id", contextID),
		zap.String("event_type", ev.Type),
		zap.String("call_connection_id", ev.Data.CallConnectionID),
		zap.String("operation_context", ev.Data.OperationContext))
	logger.Info("Received callback event")

	kind := ev.Kind()
	if kind == model.EventUnknown {
		logger.Warn("Unhandled event type")
		return nil
	}

	sess, phase, err := d.store.Current()
	if err != nil {
		return err
	}
	if contextID != "" && sess.ContextID != contextID {
		return fmt.Errorf("callback context %s: %w", contextID, ErrStaleEvent)
	}
	if ev.Data.CallConnectionID != "" && sess.ConnectionID != ev.Data.CallConnectionID {
		return fmt.Errorf("call connection %s: %w", ev.Data.CallConnectionID, ErrStaleEvent)
	}

	// Unknown operation contexts never match a transition
	opCtx, _ := model.ParseOperationContext(ev.Data.OperationContext)
	tr, ok := phase.Next(kind, opCtx)
	if !ok {
		logger.Warn("Ignoring event not expected in current phase", zap.Stringer("phase", phase))
		return nil
	}

	switch tr.Action {
	case model.ActionGreet:
		d.commands.PlayPrompt(ctx, sess.Media, sess.Greeting, model.ContextGreeting)
	case model.ActionTransfer:
		logger.Info("Initiating the call transfer")
		if err := d.commands.TransferToAgent(ctx, sess); err != nil {
			// A rejected transfer is reported later by CallTransferFailed
			logger.Error("Transfer request failed", zap.Error(err))
		}
	case model.ActionPlayTransferFailed:
		info := ev.Data.ResultInformation
		if info == nil {
			info = &model.ResultInformation{}
		}
		logger.Warn("Encountered error during call transfer",
			zap.String("message", info.Message),
			zap.Int("code", info.Code),
			zap.Int("sub_code", info.SubCode))
		d.commands.PlayPrompt(ctx, sess.Media, d.prompts.TransferFailed, model.ContextTransferFailed)
	case model.ActionHangUp:
		d.commands.HangUp(ctx, sess)
	case model.ActionNone:
		switch kind {
		case model.EventCallTransferAccepted:
			logger.Info("Call transfer accepted")
		case model.EventCallDisconnected:
			logger.Info("Call disconnected")
		}
	}

	if err := d.store.Advance(tr.Next); err != nil {
		return err
	}
	logger.Debug("Phase advanced", zap.Stringer("from", phase), zap.Stringer("to", tr.Next))
	return nil
}
