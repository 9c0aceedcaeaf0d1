// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package twiliogw implements the provider gateway on Twilio Programmable
// Voice and translates Twilio webhooks into callback events.
package twiliogw

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/twilio/twilio-go"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/gateway"
)

// CallsAPI is the part of the Twilio REST API the gateway uses. It is
// satisfied by the twilio-go ApiService and by the sandbox engine.
type CallsAPI interface {
	CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error)
}

// NewRestAPI returns the Twilio REST API for an account
func NewRestAPI(accountSID, authToken string) CallsAPI {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api
}

// Gateway places and controls calls through Twilio
type Gateway struct {
	api        CallsAPI
	holdLength time.Duration
	logger     *zap.Logger
}

// Option configures the gateway
type Option func(*Gateway)

// WithHoldLength sets how long each hold pause lasts before the call
// re-requests its hold TwiML
func WithHoldLength(d time.Duration) Option {
	return func(g *Gateway) {
		g.holdLength = d
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// New creates a gateway on top of api
func New(api CallsAPI, opts ...Option) *Gateway {
	g := &Gateway{
		api:        api,
		holdLength: DefaultHoldLength,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateCall dials opts.Target and keeps the call on hold until the
// workflow sends the first prompt
func (g *Gateway) CreateCall(ctx context.Context, opts gateway.CreateCallOptions) (gateway.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}
	if opts.CognitiveServicesEndpoint != "" {
		g.logger.Debug("Call intelligence is not available on Twilio, ignoring endpoint",
			zap.String("endpoint", opts.CognitiveServicesEndpoint))
	}

	hold, err := holdTwiML(routeURL(opts.CallbackURL, routeHold, nil), g.holdLength)
	if err != nil {
		return nil, err
	}

	params := &twilioopenapi.CreateCallParams{}
	params.SetTo(opts.Target)
	params.SetFrom(opts.Source)
	params.SetTwiml(hold)
	params.SetStatusCallback(routeURL(opts.CallbackURL, routeStatus, nil))
	params.SetStatusCallbackEvent([]string{"answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	call, err := g.api.CreateCall(params)
	if err != nil {
		return nil, providerError("create call", err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return nil, &gateway.ProviderError{Op: "create call", Message: "response has no call SID"}
	}

	g.logger.Info("Twilio call created", zap.String("call_sid", *call.Sid), zap.String("to", opts.Target))
	return &connection{gw: g, sid: *call.Sid, callbackURL: opts.CallbackURL}, nil
}

type connection struct {
	gw          *Gateway
	sid         string
	callbackURL string
}

func (c *connection) ID() string {
	return c.sid
}

func (c *connection) Media() gateway.Media {
	return &media{conn: c}
}

func (c *connection) TransferToParticipant(ctx context.Context, target string, opts gateway.TransferOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q := c.query(opts.OperationContext)
	doc, err := transferTwiML(target,
		routeURL(c.callbackURL, routeTransfer, q),
		routeURL(c.callbackURL, routeTransferAnswered, q))
	if err != nil {
		return err
	}
	params := &twilioopenapi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := c.gw.api.UpdateCall(c.sid, params); err != nil {
		return providerError("transfer", err)
	}
	return nil
}

// HangUp completes the call. Twilio always ends a call for every
// participant, so forEveryone is informational.
func (c *connection) HangUp(ctx context.Context, forEveryone bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioopenapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.gw.api.UpdateCall(c.sid, params); err != nil {
		return providerError("hang up", err)
	}
	return nil
}

func (c *connection) query(opCtx string) url.Values {
	q := url.Values{}
	q.Set(paramCallConnectionID, c.sid)
	if opCtx != "" {
		q.Set(paramOperationContext, opCtx)
	}
	return q
}

type media struct {
	conn *connection
}

func (m *media) PlayToAll(ctx context.Context, source gateway.TextSource, operationContext string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := sayTwiML(source, routeURL(m.conn.callbackURL, routePlayed, m.conn.query(operationContext)))
	if err != nil {
		return err
	}
	params := &twilioopenapi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := m.conn.gw.api.UpdateCall(m.conn.sid, params); err != nil {
		return providerError("play", err)
	}
	return nil
}
