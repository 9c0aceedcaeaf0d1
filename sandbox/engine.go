// Package sandbox is an in-process emulator of the Twilio Voice calls API.
// It executes the TwiML it is given against simulated parties and posts
// Twilio-style webhooks, so the workflow can run without a Twilio account.
package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/httpstub"
	"github.com/sprucehealth/agentbridge/twiml"
)

// Twilio error codes returned by the emulated API
const (
	ErrorCodeResourceNotFound  = 20404
	ErrorCodeMissingParameter  = 21201
	ErrorCodeCallNotInProgress = 21220
	ErrorCodeDocumentParse     = 12100
)

// AccountSID is the account every sandbox call belongs to
const AccountSID SID = "ACFAKE00000000000000000000000000"

// Engine emulates the Twilio calls API
type Engine struct {
	mu         sync.RWMutex
	clock      Clock
	webhook    httpstub.WebhookClient
	logger     *zap.Logger
	apiVersion string

	ringDelay  time.Duration
	speechRate time.Duration
	talkTime   time.Duration
	callee     Behavior
	agent      Behavior

	calls   map[SID]*Call
	runners map[SID]*runner
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the engine
type Option func(*Engine)

// WithClock sets a specific clock implementation
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithWebhookClient sets the webhook client
func WithWebhookClient(client httpstub.WebhookClient) Option {
	return func(e *Engine) {
		e.webhook = client
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRingDelay sets how long a called party rings before reacting
func WithRingDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.ringDelay = d
	}
}

// WithSpeechRate sets how long <Say> takes per character of text
func WithSpeechRate(perChar time.Duration) Option {
	return func(e *Engine) {
		e.speechRate = perChar
	}
}

// WithTalkTime sets how long an answered agent stays on the call
func WithTalkTime(d time.Duration) Option {
	return func(e *Engine) {
		e.talkTime = d
	}
}

// WithCalleeBehavior sets how the customer reacts to calls placed by the API
func WithCalleeBehavior(b Behavior) Option {
	return func(e *Engine) {
		e.callee = b
	}
}

// WithAgentBehavior sets how the agent reacts to a <Dial>
func WithAgentBehavior(b Behavior) Option {
	return func(e *Engine) {
		e.agent = b
	}
}

// NewEngine creates a new engine instance
func NewEngine(opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		clock:      NewAutoClock(),
		webhook:    httpstub.NewDefaultWebhookClient(10 * time.Second),
		logger:     zap.NewNop(),
		apiVersion: "2010-04-01",
		ringDelay:  2 * time.Second,
		speechRate: 60 * time.Millisecond,
		talkTime:   30 * time.Second,
		callee:     Answer,
		agent:      Answer,
		calls:      make(map[SID]*Call),
		runners:    make(map[SID]*runner),
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateCall places a simulated outbound call. The call starts with the
// inline Twiml when given, otherwise with the document fetched from Url.
func (e *Engine) CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	if params == nil {
		return nil, missingParameter("To")
	}
	to := deref(params.To)
	if to == "" {
		return nil, missingParameter("To")
	}
	from := deref(params.From)
	if from == "" {
		return nil, missingParameter("From")
	}

	start := command{url: deref(params.Url)}
	if doc := deref(params.Twiml); doc != "" {
		resp, err := twiml.Parse([]byte(doc))
		if err != nil {
			return nil, documentParseError(err)
		}
		start = command{doc: resp}
	}
	if start.doc == nil && start.url == "" {
		return nil, missingParameter("Url")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	call := &Call{
		SID:            NewCallSID(),
		AccountSID:     AccountSID,
		From:           from,
		To:             to,
		Direction:      OutboundAPI,
		Status:         CallQueued,
		StartAt:        now,
		Timeline:       []Event{},
		StatusCallback: deref(params.StatusCallback),
	}
	if params.StatusCallbackEvent != nil {
		for _, ev := range *params.StatusCallbackEvent {
			call.StatusCallbackEvents = append(call.StatusCallbackEvents, strings.ToLower(strings.TrimSpace(ev)))
		}
	}
	call.Timeline = append(call.Timeline, NewEvent(now, "call.created", map[string]any{
		"sid":  call.SID,
		"from": call.From,
		"to":   call.To,
	}))
	e.startCallbackQueue(call)
	e.calls[call.SID] = call

	r := newRunner(call, e, e.callee)
	e.runners[call.SID] = r

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.run(e.ctx, start)
	}()

	e.logger.Debug("Sandbox call created", zap.String("call_sid", call.SID.String()), zap.String("to", to))
	return buildAPICallResponse(call, e.apiVersion), nil
}

// UpdateCall redirects a live call to new TwiML or ends it
func (e *Engine) UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	var cmd *command
	if params != nil {
		switch {
		case params.Status != nil:
			switch strings.ToLower(*params.Status) {
			case "completed", "canceled":
				cmd = &command{hangup: true}
			default:
				return nil, &client.TwilioRestError{
					Code:    ErrorCodeMissingParameter,
					Status:  400,
					Message: fmt.Sprintf("Invalid Status %q", *params.Status),
				}
			}
		case params.Twiml != nil:
			resp, err := twiml.Parse([]byte(*params.Twiml))
			if err != nil {
				return nil, documentParseError(err)
			}
			cmd = &command{doc: resp}
		case params.Url != nil:
			cmd = &command{url: *params.Url}
		}
	}

	e.mu.Lock()
	call, exists := e.calls[SID(sid)]
	if !exists {
		e.mu.Unlock()
		return nil, notFoundError(SID(sid))
	}
	if call.Status.IsTerminal() {
		e.mu.Unlock()
		return nil, &client.TwilioRestError{
			Code:    ErrorCodeCallNotInProgress,
			Status:  400,
			Message: "Call is not in-progress. Cannot redirect.",
		}
	}
	r := e.runners[call.SID]

	if cmd != nil {
		detail := map[string]any{}
		switch {
		case cmd.hangup:
			detail["status"] = string(CallCompleted)
			final := CallCompleted
			if call.Status != CallInProgress {
				final = CallCanceled
			}
			e.endCall(call, final)
		case cmd.doc != nil:
			detail["twiml"] = *params.Twiml
		default:
			detail["url"] = cmd.url
		}
		call.Timeline = append(call.Timeline, NewEvent(e.clock.Now(), "call.updated", detail))
	}
	resp := buildAPICallResponse(call, e.apiVersion)
	e.mu.Unlock()

	if cmd != nil && r != nil {
		r.send(*cmd)
	}
	return resp, nil
}

// Hangup simulates the customer hanging up
func (e *Engine) Hangup(callSID SID) error {
	e.mu.Lock()
	call, exists := e.calls[callSID]
	if !exists {
		e.mu.Unlock()
		return notFoundError(callSID)
	}
	r := e.runners[callSID]
	e.endCall(call, CallCompleted)
	e.mu.Unlock()

	if r != nil {
		r.send(command{hangup: true})
	}
	return nil
}

// FetchCall returns a Twilio-style call response
func (e *Engine) FetchCall(sid string) (*twilioopenapi.ApiV2010Call, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	call, exists := e.calls[SID(sid)]
	if !exists {
		return nil, notFoundError(SID(sid))
	}
	return buildAPICallResponse(call, e.apiVersion), nil
}

// GetCall returns a copy of a call for inspection
func (e *Engine) GetCall(sid SID) (*Call, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	call, exists := e.calls[sid]
	if !exists {
		return nil, false
	}
	return call.clone(), true
}

// StateSnapshot is a JSON-serializable snapshot of the engine state
type StateSnapshot struct {
	Calls     []*Call   `json:"calls"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot returns copies of all calls ordered by start time
func (e *Engine) Snapshot() *StateSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &StateSnapshot{
		Calls:     make([]*Call, 0, len(e.calls)),
		Timestamp: e.clock.Now(),
	}
	for _, call := range e.calls {
		snap.Calls = append(snap.Calls, call.clone())
	}
	sort.SliceStable(snap.Calls, func(i, j int) bool {
		if snap.Calls[i].StartAt.Equal(snap.Calls[j].StartAt) {
			return snap.Calls[i].SID < snap.Calls[j].SID
		}
		return snap.Calls[i].StartAt.Before(snap.Calls[j].StartAt)
	})
	return snap
}

// Close stops all calls and waits for pending callbacks
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()
	return nil
}

// createChildCall records the agent leg of a <Dial>. Must be called with
// e.mu held.
func (e *Engine) createChildCall(parent *Call, to string) *Call {
	now := e.clock.Now()
	parentSID := parent.SID
	child := &Call{
		SID:           NewCallSID(),
		AccountSID:    parent.AccountSID,
		From:          parent.From,
		To:            to,
		Direction:     OutboundDial,
		Status:        CallQueued,
		StartAt:       now,
		ParentCallSID: &parentSID,
		Timeline:      []Event{NewEvent(now, "call.created", map[string]any{"to": to, "parent": parentSID})},
	}
	parent.ChildCallSIDs = append(parent.ChildCallSIDs, child.SID)
	e.calls[child.SID] = child
	return child
}

// updateCallStatus must be called with e.mu held
func (e *Engine) updateCallStatus(call *Call, newStatus CallStatus) {
	if call.Status == newStatus || call.Status.IsTerminal() {
		return
	}

	oldStatus := call.Status
	call.Status = newStatus
	now := e.clock.Now()
	call.Timeline = append(call.Timeline, NewEvent(now, "status.changed", map[string]any{
		"from": oldStatus,
		"to":   newStatus,
	}))
	if newStatus == CallInProgress {
		call.AnsweredAt = &now
	}

	if call.CallbackQueue == nil {
		return
	}
	if call.wantsCallback(newStatus) {
		form := e.buildCallbackForm(call)
		target := call.StatusCallback
		call.CallbackQueue <- func() {
			e.sendStatusCallback(call, target, form)
		}
	}
	if newStatus.IsTerminal() {
		close(call.CallbackQueue)
	}
}

// endCall must be called with e.mu held
func (e *Engine) endCall(call *Call, status CallStatus) {
	if call.Status.IsTerminal() {
		return
	}
	now := e.clock.Now()
	call.EndedAt = &now
	e.updateCallStatus(call, status)
}

// startCallbackQueue must be called with e.mu held
func (e *Engine) startCallbackQueue(call *Call) {
	if call.StatusCallback == "" {
		return
	}
	queue := make(chan func(), 8)
	call.CallbackQueue = queue
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for fn := range queue {
			fn()
		}
	}()
}

// sendStatusCallback posts to the status callback URL
func (e *Engine) sendStatusCallback(call *Call, target string, form url.Values) {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	status, _, _, err := e.webhook.POST(ctx, target, form)

	detail := map[string]any{
		"url":         target,
		"call_status": form.Get("CallStatus"),
		"status":      status,
	}
	if err != nil {
		detail["error"] = err.Error()
		e.logger.Warn("Status callback failed", zap.String("url", target), zap.Error(err))
	}

	e.mu.Lock()
	call.Timeline = append(call.Timeline, NewEvent(e.clock.Now(), "webhook.status_callback", detail))
	e.mu.Unlock()
}

// buildCallbackForm must be called with e.mu held
func (e *Engine) buildCallbackForm(call *Call) url.Values {
	form := url.Values{}
	form.Set("CallSid", string(call.SID))
	form.Set("AccountSid", string(call.AccountSID))
	form.Set("From", call.From)
	form.Set("To", call.To)
	form.Set("CallStatus", string(call.Status))
	form.Set("Direction", string(call.Direction))
	form.Set("ApiVersion", e.apiVersion)
	form.Set("Timestamp", e.clock.Now().Format(time.RFC1123Z))
	if call.ParentCallSID != nil {
		form.Set("ParentCallSid", string(*call.ParentCallSID))
	}
	return form
}

func buildAPICallResponse(call *Call, apiVersion string) *twilioopenapi.ApiV2010Call {
	sid := string(call.SID)
	accountSid := string(call.AccountSID)
	status := string(call.Status)
	direction := string(call.Direction)
	dateCreated := call.StartAt.UTC().Format(time.RFC1123Z)
	resp := &twilioopenapi.ApiV2010Call{
		Sid:         &sid,
		AccountSid:  &accountSid,
		Status:      &status,
		Direction:   &direction,
		ApiVersion:  &apiVersion,
		DateCreated: &dateCreated,
	}
	if call.From != "" {
		from := call.From
		resp.From = &from
	}
	if call.To != "" {
		to := call.To
		resp.To = &to
	}
	if call.AnsweredAt != nil {
		start := call.AnsweredAt.UTC().Format(time.RFC1123Z)
		resp.StartTime = &start
	}
	if call.EndedAt != nil {
		end := call.EndedAt.UTC().Format(time.RFC1123Z)
		resp.EndTime = &end
		duration := fmt.Sprintf("%.0f", call.EndedAt.Sub(call.StartAt).Seconds())
		resp.Duration = &duration
	}
	return resp
}

func notFoundError(sid SID) *client.TwilioRestError {
	return &client.TwilioRestError{
		Code:    ErrorCodeResourceNotFound,
		Message: "The requested resource /Calls/" + sid.String() + " was not found",
		Status:  404,
	}
}

func missingParameter(name string) *client.TwilioRestError {
	return &client.TwilioRestError{
		Code:    ErrorCodeMissingParameter,
		Message: "Missing required parameter " + name + " in the post body",
		Status:  400,
	}
}

func documentParseError(err error) *client.TwilioRestError {
	return &client.TwilioRestError{
		Code:    ErrorCodeDocumentParse,
		Message: "Document parse failure: " + err.Error(),
		Status:  400,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
