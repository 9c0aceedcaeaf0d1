// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiliogw_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/twilio/twilio-go/client"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/twiliogw"
	"github.com/sprucehealth/agentbridge/twiml"
)

const callbackURL = "https://bridge.example.com/api/callbacks/ctx-1"

type fakeCallsAPI struct {
	mu        sync.Mutex
	creates   []*twilioopenapi.CreateCallParams
	updates   []*twilioopenapi.UpdateCallParams
	updateSID []string
	createErr error
	updateErr error
}

func (f *fakeCallsAPI) CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, params)
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid := "CA0001"
	return &twilioopenapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallsAPI) UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, params)
	f.updateSID = append(f.updateSID, sid)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &twilioopenapi.ApiV2010Call{Sid: &sid}, nil
}

func createConnection(t *testing.T, api *fakeCallsAPI) gateway.Connection {
	t.Helper()
	gw := twiliogw.New(api, twiliogw.WithHoldLength(30*time.Second))
	conn, err := gw.CreateCall(context.Background(), gateway.CreateCallOptions{
		Target:      "+15550100",
		Source:      "+15550199",
		CallbackURL: callbackURL,
	})
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}
	return conn
}

func parseTwiML(t *testing.T, doc *string) *twiml.Response {
	t.Helper()
	if doc == nil {
		t.Fatalf("Expected TwiML to be set")
	}
	resp, err := twiml.Parse([]byte(*doc))
	if err != nil {
		t.Fatalf("Failed to parse TwiML %q: %v", *doc, err)
	}
	return resp
}

func TestCreateCallParksOnHold(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)

	if conn.ID() != "CA0001" {
		t.Errorf("Expected connection id CA0001, got %q", conn.ID())
	}
	if len(api.creates) != 1 {
		t.Fatalf("Expected 1 create call, got %d", len(api.creates))
	}
	params := api.creates[0]
	if *params.To != "+15550100" || *params.From != "+15550199" {
		t.Errorf("Unexpected numbers: to=%s from=%s", *params.To, *params.From)
	}
	if *params.StatusCallback != callbackURL+"/twilio/status" {
		t.Errorf("Expected status callback under the callback URL, got %s", *params.StatusCallback)
	}
	events := *params.StatusCallbackEvent
	if len(events) != 2 || events[0] != "answered" || events[1] != "completed" {
		t.Errorf("Expected answered and completed status events, got %v", events)
	}

	resp := parseTwiML(t, params.Twiml)
	if len(resp.Children) != 2 {
		t.Fatalf("Expected pause and redirect, got %d verbs", len(resp.Children))
	}
	if pause, ok := resp.Children[0].(*twiml.Pause); !ok || pause.Length != 30*time.Second {
		t.Errorf("Expected 30s pause, got %#v", resp.Children[0])
	}
	if redirect, ok := resp.Children[1].(*twiml.Redirect); !ok || redirect.URL != callbackURL+"/twilio/hold" {
		t.Errorf("Expected redirect to hold route, got %#v", resp.Children[1])
	}
}

func TestCreateCallRestError(t *testing.T) {
	api := &fakeCallsAPI{createErr: &client.TwilioRestError{
		Code:    21211,
		Status:  400,
		Message: "Invalid 'To' Phone Number",
	}}
	gw := twiliogw.New(api)
	_, err := gw.CreateCall(context.Background(), gateway.CreateCallOptions{
		Target:      "bogus",
		Source:      "+15550199",
		CallbackURL: callbackURL,
	})

	var perr *gateway.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %T %v", err, err)
	}
	if perr.Code != 21211 || perr.Status != 400 {
		t.Errorf("Expected code 21211 status 400, got %d %d", perr.Code, perr.Status)
	}
	var restErr *client.TwilioRestError
	if !errors.As(err, &restErr) {
		t.Errorf("Expected the Twilio error to stay in the chain")
	}
}

func TestCreateCallRequiresCallbackURL(t *testing.T) {
	api := &fakeCallsAPI{}
	gw := twiliogw.New(api)
	if _, err := gw.CreateCall(context.Background(), gateway.CreateCallOptions{Target: "+15550100"}); err == nil {
		t.Fatal("Expected error without callback URL")
	}
	if len(api.creates) != 0 {
		t.Errorf("Expected no REST call, got %d", len(api.creates))
	}
}

func TestPlayToAll(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)

	err := conn.Media().PlayToAll(context.Background(), gateway.TextSource{
		Text:      "We are connecting you to an agent.",
		VoiceName: "Polly.Joanna-Neural",
		Language:  "en-US",
	}, "Greeting")
	if err != nil {
		t.Fatalf("PlayToAll failed: %v", err)
	}

	if len(api.updates) != 1 || api.updateSID[0] != "CA0001" {
		t.Fatalf("Expected one update of CA0001, got %v", api.updateSID)
	}
	resp := parseTwiML(t, api.updates[0].Twiml)
	say, ok := resp.Children[0].(*twiml.Say)
	if !ok {
		t.Fatalf("Expected *Say, got %T", resp.Children[0])
	}
	if say.Text != "We are connecting you to an agent." || say.Voice != "Polly.Joanna-Neural" || say.Language != "en-US" {
		t.Errorf("Unexpected say: %+v", say)
	}

	redirect, ok := resp.Children[1].(*twiml.Redirect)
	if !ok {
		t.Fatalf("Expected *Redirect, got %T", resp.Children[1])
	}
	u, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("Invalid redirect URL: %v", err)
	}
	if u.Path != "/api/callbacks/ctx-1/twilio/played" {
		t.Errorf("Expected played route, got %s", u.Path)
	}
	if u.Query().Get("operationContext") != "Greeting" {
		t.Errorf("Expected operation context Greeting, got %q", u.Query().Get("operationContext"))
	}
	if u.Query().Get("callConnectionId") != "CA0001" {
		t.Errorf("Expected call connection id, got %q", u.Query().Get("callConnectionId"))
	}
}

func TestTransferToParticipant(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)

	err := conn.TransferToParticipant(context.Background(), "+15550111", gateway.TransferOptions{
		Transferee:       "+15550100",
		OperationContext: "TransferCallToAgent",
	})
	if err != nil {
		t.Fatalf("TransferToParticipant failed: %v", err)
	}

	resp := parseTwiML(t, api.updates[0].Twiml)
	dial, ok := resp.Children[0].(*twiml.Dial)
	if !ok {
		t.Fatalf("Expected *Dial, got %T", resp.Children[0])
	}
	action, _ := url.Parse(dial.Action)
	if action.Path != "/api/callbacks/ctx-1/twilio/transfer" || action.Query().Get("operationContext") != "TransferCallToAgent" {
		t.Errorf("Unexpected dial action %s", dial.Action)
	}
	if len(dial.Numbers) != 1 || dial.Numbers[0].Number != "+15550111" {
		t.Fatalf("Expected agent number, got %+v", dial.Numbers)
	}
	answered, _ := url.Parse(dial.Numbers[0].URL)
	if answered.Path != "/api/callbacks/ctx-1/twilio/transfer/answered" {
		t.Errorf("Unexpected number url %s", dial.Numbers[0].URL)
	}
}

func TestTransferRejected(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)
	api.updateErr = &client.TwilioRestError{Code: 21220, Status: 400, Message: "Call is not in-progress"}

	err := conn.TransferToParticipant(context.Background(), "+15550111", gateway.TransferOptions{})
	var perr *gateway.ProviderError
	if !errors.As(err, &perr) || perr.Op != "transfer" || perr.Code != 21220 {
		t.Fatalf("Expected transfer ProviderError with code 21220, got %v", err)
	}
}

func TestHangUpCompletesCall(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)

	if err := conn.HangUp(context.Background(), true); err != nil {
		t.Fatalf("HangUp failed: %v", err)
	}
	params := api.updates[0]
	if params.Status == nil || *params.Status != "completed" {
		t.Errorf("Expected status completed, got %v", params.Status)
	}
	if params.Twiml != nil {
		t.Errorf("Expected no TwiML on hang up")
	}
}

func TestCanceledContext(t *testing.T) {
	api := &fakeCallsAPI{}
	conn := createConnection(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := conn.HangUp(ctx, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(api.updates) != 0 {
		t.Errorf("Expected no REST call, got %d", len(api.updates))
	}
}
