// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiliogw_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/sprucehealth/agentbridge/model"
	"github.com/sprucehealth/agentbridge/twiliogw"
	"github.com/sprucehealth/agentbridge/twiml"
)

type delivered struct {
	contextID string
	event     model.CallbackEvent
}

type channelSink struct {
	ch chan delivered
}

func (s *channelSink) DispatchBatch(ctx context.Context, contextID string, events []model.CallbackEvent) {
	for _, ev := range events {
		s.ch <- delivered{contextID: contextID, event: ev}
	}
}

func newWebhookServer(t *testing.T) (*httptest.Server, *channelSink) {
	t.Helper()
	sink := &channelSink{ch: make(chan delivered, 16)}
	hooks := twiliogw.NewWebhooks(sink, twiliogw.WithWebhookHoldLength(5*time.Second))
	r := mux.NewRouter()
	hooks.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hooks.Close()
	})
	return srv, sink
}

func postForm(t *testing.T, target string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(target, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func nextEvent(t *testing.T, sink *channelSink) delivered {
	t.Helper()
	select {
	case d := <-sink.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return delivered{}
}

func TestStatusCallbacks(t *testing.T) {
	srv, sink := newWebhookServer(t)
	base := srv.URL + "/api/callbacks/ctx-1/twilio"

	// Ringing has no workflow meaning
	status, _ := postForm(t, base+"/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}})
	if status != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}
	postForm(t, base+"/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	postForm(t, base+"/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"no-answer"}})

	got := nextEvent(t, sink)
	if got.contextID != "ctx-1" {
		t.Errorf("Expected context ctx-1, got %q", got.contextID)
	}
	if got.event.Kind() != model.EventCallConnected {
		t.Fatalf("Expected CallConnected first, got %s", got.event.Type)
	}
	if got.event.Data.CallConnectionID != "CA1" || got.event.Source != twiliogw.EventSource {
		t.Errorf("Unexpected event %+v", got.event)
	}
	if got.event.ID == "" {
		t.Errorf("Expected event id to be set")
	}

	if got := nextEvent(t, sink); got.event.Kind() != model.EventCallDisconnected {
		t.Fatalf("Expected CallDisconnected, got %s", got.event.Type)
	}
}

func TestPlayedRespondsWithHold(t *testing.T) {
	srv, sink := newWebhookServer(t)
	target := srv.URL + "/api/callbacks/ctx-1/twilio/played?operationContext=Greeting&callConnectionId=CA1"

	status, body := postForm(t, target, url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	resp, err := twiml.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Invalid TwiML %q: %v", body, err)
	}
	if len(resp.Children) != 2 {
		t.Fatalf("Expected hold loop, got %d verbs", len(resp.Children))
	}
	if redirect, ok := resp.Children[1].(*twiml.Redirect); !ok || redirect.URL != "hold" {
		t.Errorf("Expected relative redirect to hold, got %#v", resp.Children[1])
	}

	got := nextEvent(t, sink)
	if got.event.Kind() != model.EventPlayCompleted {
		t.Fatalf("Expected PlayCompleted, got %s", got.event.Type)
	}
	if got.event.Data.OperationContext != "Greeting" || got.event.Data.CallConnectionID != "CA1" {
		t.Errorf("Unexpected data %+v", got.event.Data)
	}
}

func TestTransferAnsweredUsesCustomerCall(t *testing.T) {
	srv, sink := newWebhookServer(t)
	target := srv.URL + "/api/callbacks/ctx-1/twilio/transfer/answered?operationContext=TransferCallToAgent&callConnectionId=CA1"

	status, body := postForm(t, target, url.Values{"CallSid": {"CA2"}, "ParentCallSid": {"CA1"}})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if resp, err := twiml.Parse([]byte(body)); err != nil || len(resp.Children) != 0 {
		t.Errorf("Expected empty TwiML, got %q (%v)", body, err)
	}

	got := nextEvent(t, sink)
	if got.event.Kind() != model.EventCallTransferAccepted {
		t.Fatalf("Expected CallTransferAccepted, got %s", got.event.Type)
	}
	if got.event.Data.CallConnectionID != "CA1" {
		t.Errorf("Expected customer call id, got %q", got.event.Data.CallConnectionID)
	}
}

func TestTransferResult(t *testing.T) {
	srv, sink := newWebhookServer(t)
	target := srv.URL + "/api/callbacks/ctx-1/twilio/transfer?operationContext=TransferCallToAgent&callConnectionId=CA1"

	// A finished conversation ends the customer leg too
	_, body := postForm(t, target, url.Values{"CallSid": {"CA1"}, "DialCallStatus": {"completed"}})
	resp, err := twiml.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Invalid TwiML: %v", err)
	}
	if _, ok := resp.Children[0].(*twiml.Hangup); !ok {
		t.Errorf("Expected Hangup, got %T", resp.Children[0])
	}

	_, body = postForm(t, target, url.Values{"CallSid": {"CA1"}, "DialCallStatus": {"busy"}, "ErrorCode": {"13224"}})
	if !strings.Contains(body, "Pause") {
		t.Errorf("Expected hold TwiML after a failed transfer, got %q", body)
	}

	got := nextEvent(t, sink)
	if got.event.Kind() != model.EventCallTransferFailed {
		t.Fatalf("Expected CallTransferFailed, got %s", got.event.Type)
	}
	info := got.event.Data.ResultInformation
	if info == nil {
		t.Fatal("Expected result information")
	}
	if info.Code != 486 || info.SubCode != 13224 {
		t.Errorf("Expected 486/13224, got %d/%d", info.Code, info.SubCode)
	}
	if got.event.Data.OperationContext != "TransferCallToAgent" {
		t.Errorf("Expected operation context, got %q", got.event.Data.OperationContext)
	}
}

func TestHoldRoute(t *testing.T) {
	srv, _ := newWebhookServer(t)
	status, body := postForm(t, srv.URL+"/api/callbacks/ctx-1/twilio/hold", url.Values{"CallSid": {"CA1"}})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	resp, err := twiml.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Invalid TwiML: %v", err)
	}
	if pause, ok := resp.Children[0].(*twiml.Pause); !ok || pause.Length != 5*time.Second {
		t.Errorf("Expected 5s pause, got %#v", resp.Children[0])
	}
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	sink := &channelSink{ch: make(chan delivered, 16)}
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	hooks := twiliogw.NewWebhooks(sink, twiliogw.WithWebhookClock(func() time.Time { return at }))
	r := mux.NewRouter()
	hooks.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := srv.URL + "/api/callbacks/ctx-1/twilio"

	postForm(t, base+"/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	got := nextEvent(t, sink)
	if got.event.Time != "2024-01-01T14:30:00Z" {
		t.Errorf("Expected UTC event time, got %q", got.event.Time)
	}

	if err := hooks.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	status, _ := postForm(t, base+"/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	if status != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", status)
	}
	select {
	case d := <-sink.ch:
		t.Fatalf("Expected no event after Close, got %+v", d.event)
	case <-time.After(50 * time.Millisecond):
	}
	if err := hooks.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}
