// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiliogw

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/model"
)

// EventSource is the source recorded on events translated from Twilio
const EventSource = "twilio"

// EventSink consumes translated callback events
type EventSink interface {
	DispatchBatch(ctx context.Context, contextID string, events []model.CallbackEvent)
}

// Webhooks serves the Twilio callback routes of every call. Events are
// handed to the sink after the TwiML response is written, one at a time
// and in arrival order.
type Webhooks struct {
	sink       EventSink
	holdLength time.Duration
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	queue chan func()
	stop  chan struct{}
	wg    sync.WaitGroup

	// mu orders enqueues against Close so nothing is queued after the drain
	mu     sync.Mutex
	closed bool
}

// WebhookOption configures the webhook handlers
type WebhookOption func(*Webhooks)

// WithWebhookLogger sets the logger
func WithWebhookLogger(l *zap.Logger) WebhookOption {
	return func(w *Webhooks) {
		w.logger = l
	}
}

// WithWebhookHoldLength sets the pause length of hold responses
func WithWebhookHoldLength(d time.Duration) WebhookOption {
	return func(w *Webhooks) {
		w.holdLength = d
	}
}

// WithWebhookClock sets the time source for event timestamps
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(w *Webhooks) {
		w.now = now
	}
}

// NewWebhooks creates the handlers and starts the delivery loop
func NewWebhooks(sink EventSink, opts ...WebhookOption) *Webhooks {
	w := &Webhooks{
		sink:       sink,
		holdLength: DefaultHoldLength,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		queue:      make(chan func(), 64),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Register adds the Twilio routes below /api/callbacks/{contextId}
func (w *Webhooks) Register(r *mux.Router) {
	sub := r.PathPrefix("/api/callbacks/{contextId}/twilio").Subrouter()
	sub.HandleFunc("/status", w.handleStatus).Methods(http.MethodPost)
	sub.HandleFunc("/hold", w.handleHold).Methods(http.MethodPost)
	sub.HandleFunc("/played", w.handlePlayed).Methods(http.MethodPost)
	sub.HandleFunc("/transfer", w.handleTransferResult).Methods(http.MethodPost)
	sub.HandleFunc("/transfer/answered", w.handleTransferAnswered).Methods(http.MethodPost)
}

// Close stops the delivery loop after pending events are delivered
func (w *Webhooks) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.stop)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *Webhooks) run() {
	defer w.wg.Done()
	for {
		select {
		case fn := <-w.queue:
			fn()
		case <-w.stop:
			for {
				select {
				case fn := <-w.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (w *Webhooks) enqueue(contextID string, ev model.CallbackEvent) {
	events := []model.CallbackEvent{ev}
	fn := func() {
		w.sink.DispatchBatch(context.Background(), contextID, events)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("Dropping Twilio event after shutdown", zap.String("event_type", ev.Type))
		return
	}
	w.queue <- fn
}

// handleStatus translates call status callbacks
func (w *Webhooks) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "invalid form", http.StatusBadRequest)
		return
	}
	contextID := mux.Vars(r)["contextId"]
	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")

	w.logger.Debug("Twilio status callback",
		zap.String("context_id", contextID),
		zap.String("call_sid", callSID),
		zap.String("call_status", status))

	rw.WriteHeader(http.StatusNoContent)

	var eventType string
	switch status {
	case "in-progress":
		eventType = model.TypeCallConnected
	case "completed", "busy", "failed", "no-answer", "canceled":
		eventType = model.TypeCallDisconnected
	default:
		return
	}
	w.enqueue(contextID, w.event(eventType, callSID, model.EventData{CallConnectionID: callSID}))
}

// handleHold keeps the call parked until the next command replaces its TwiML
func (w *Webhooks) handleHold(rw http.ResponseWriter, r *http.Request) {
	w.writeHold(rw)
}

// handlePlayed reports the end of a prompt
func (w *Webhooks) handlePlayed(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "invalid form", http.StatusBadRequest)
		return
	}
	contextID := mux.Vars(r)["contextId"]
	data := w.eventData(r)

	w.writeHold(rw)
	w.enqueue(contextID, w.event(model.TypePlayCompleted, data.CallConnectionID, data))
}

// handleTransferAnswered runs on the agent leg once the agent picks up
func (w *Webhooks) handleTransferAnswered(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "invalid form", http.StatusBadRequest)
		return
	}
	contextID := mux.Vars(r)["contextId"]
	data := w.eventData(r)

	w.writeTwiML(rw, emptyTwiML)
	w.enqueue(contextID, w.event(model.TypeCallTransferAccepted, data.CallConnectionID, data))
}

// handleTransferResult is the Dial action, requested when the agent leg ends
func (w *Webhooks) handleTransferResult(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "invalid form", http.StatusBadRequest)
		return
	}
	contextID := mux.Vars(r)["contextId"]
	data := w.eventData(r)
	dialStatus := r.PostForm.Get("DialCallStatus")

	w.logger.Info("Twilio dial finished",
		zap.String("context_id", contextID),
		zap.String("dial_call_status", dialStatus))

	if dialStatus == "completed" || dialStatus == "answered" {
		w.writeTwiML(rw, hangupTwiML)
		return
	}

	data.ResultInformation = transferFailure(dialStatus, r.PostForm.Get("ErrorCode"))
	w.writeHold(rw)
	w.enqueue(contextID, w.event(model.TypeCallTransferFailed, data.CallConnectionID, data))
}

func (w *Webhooks) eventData(r *http.Request) model.EventData {
	callSID := r.URL.Query().Get(paramCallConnectionID)
	if callSID == "" {
		callSID = r.PostForm.Get("ParentCallSid")
	}
	if callSID == "" {
		callSID = r.PostForm.Get("CallSid")
	}
	return model.EventData{
		CallConnectionID: callSID,
		OperationContext: r.URL.Query().Get(paramOperationContext),
	}
}

func (w *Webhooks) event(eventType, callSID string, data model.EventData) model.CallbackEvent {
	return model.CallbackEvent{
		ID:      w.newID(),
		Source:  EventSource,
		Type:    eventType,
		Subject: "calls/" + callSID,
		Time:    w.now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	}
}

func (w *Webhooks) writeHold(rw http.ResponseWriter) {
	// Relative to the route being answered, which is always a sibling of hold
	w.writeTwiML(rw, func() (string, error) {
		return holdTwiML("hold", w.holdLength)
	})
}

func (w *Webhooks) writeTwiML(rw http.ResponseWriter, build func() (string, error)) {
	doc, err := build()
	if err != nil {
		w.logger.Error("Failed to build TwiML", zap.Error(err))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(doc))
}

var dialFailureCodes = map[string]int{
	"busy":      486,
	"no-answer": 408,
	"failed":    500,
	"canceled":  487,
}

func transferFailure(dialStatus, errorCode string) *model.ResultInformation {
	code, ok := dialFailureCodes[dialStatus]
	if !ok {
		code = 500
	}
	subCode, _ := strconv.Atoi(errorCode)
	return &model.ResultInformation{
		Code:    code,
		SubCode: subCode,
		Message: fmt.Sprintf("agent leg ended with status %q", dialStatus),
	}
}
