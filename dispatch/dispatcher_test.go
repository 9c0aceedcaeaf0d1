// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/dispatch"
	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/gateway/mock"
	"github.com/sprucehealth/agentbridge/issuer"
	"github.com/sprucehealth/agentbridge/model"
	"github.com/sprucehealth/agentbridge/session"
)

const (
	testContextID = "3f1c2a7e-0000-4000-8000-000000000001"
	testCallID    = "CA0001"
	customer      = "+15551234567"
	agent         = "+15550002000"
)

type fixture struct {
	disp  *dispatch.Dispatcher
	store *session.Store
	gw    *mock.MockGateway
	conn  *mock.MockConnection
	media *mock.MockMedia
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		store: session.NewStore(),
		gw:    mock.NewMockGateway(ctrl),
		conn:  mock.NewMockConnection(ctrl),
		media: mock.NewMockMedia(ctrl),
	}
	iss := issuer.New(f.gw, issuer.Settings{
		SourceNumber: "+15550001000",
		AgentNumber:  agent,
		VoiceName:    "Polly.Joanna-Neural",
		Language:     "en-US",
	}, zap.NewNop())
	f.disp = dispatch.New(f.store, iss, "https://bridge.example.com/",
		dispatch.WithIDGenerator(func() string { return testContextID }))
	return f
}

// startCall places a call through the mocked gateway and moves it to phase
func (f *fixture) startCall(t *testing.T, phase model.Phase) {
	t.Helper()
	f.gw.EXPECT().CreateCall(gomock.Any(), gomock.Any()).Return(f.conn, nil)
	f.conn.EXPECT().ID().Return(testCallID)
	f.conn.EXPECT().Media().Return(f.media)
	if _, err := f.disp.PlaceCall(context.Background(), customer, ""); err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if phase != model.PhaseConnecting {
		if err := f.store.Advance(phase); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}
}

func event(eventType, opCtx string) model.CallbackEvent {
	return model.CallbackEvent{
		Type: eventType,
		Data: model.EventData{CallConnectionID: testCallID, OperationContext: opCtx},
	}
}

func TestPlaceCallBuildsCallbackURL(t *testing.T) {
	f := newFixture(t)
	f.gw.EXPECT().CreateCall(gomock.Any(), gateway.CreateCallOptions{
		Target:      customer,
		Source:      "+15550001000",
		CallbackURL: "https://bridge.example.com/api/callbacks/" + testContextID,
	}).Return(f.conn, nil)
	f.conn.EXPECT().ID().Return(testCallID)
	f.conn.EXPECT().Media().Return(f.media)

	sess, err := f.disp.PlaceCall(context.Background(), customer, "Custom hello")
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if sess.ContextID != testContextID {
		t.Errorf("Expected context id %s, got %s", testContextID, sess.ContextID)
	}
	if sess.Greeting != "Custom hello" {
		t.Errorf("Expected greeting override, got %q", sess.Greeting)
	}
	if f.store.Phase() != model.PhaseConnecting {
		t.Errorf("Expected Connecting, got %s", f.store.Phase())
	}
}

func TestCallConnectedPlaysGreeting(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseConnecting)

	f.media.EXPECT().PlayToAll(gomock.Any(), gomock.Any(), "Greeting").
		DoAndReturn(func(_ context.Context, src gateway.TextSource, _ string) error {
			if src.Text != dispatch.DefaultPrompts.Greeting {
				t.Errorf("Expected greeting prompt, got %q", src.Text)
			}
			return nil
		})

	if err := f.disp.Dispatch(context.Background(), testContextID, event("Microsoft.Communication.CallConnected", "")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f.store.Phase() != model.PhaseGreeting {
		t.Errorf("Expected Greeting, got %s", f.store.Phase())
	}
}

func TestDuplicateCallConnectedGreetsOnce(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseConnecting)

	f.media.EXPECT().PlayToAll(gomock.Any(), gomock.Any(), "Greeting").Return(nil).Times(1)

	ev := event("CallConnected", "")
	for i := 0; i < 2; i++ {
		if err := f.disp.Dispatch(context.Background(), testContextID, ev); err != nil {
			t.Fatalf("Dispatch %d failed: %v", i, err)
		}
	}
}

func TestGreetingCompletedTransfersToAgent(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseGreeting)

	f.conn.EXPECT().TransferToParticipant(gomock.Any(), agent, gateway.TransferOptions{
		Transferee:       customer,
		OperationContext: "TransferCallToAgent",
	}).Return(nil).Times(1)

	if err := f.disp.Dispatch(context.Background(), testContextID, event("PlayCompleted", "Greeting")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f.store.Phase() != model.PhaseTransferring {
		t.Errorf("Expected Transferring, got %s", f.store.Phase())
	}
}

func TestTransferRejectionIsNotRaised(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseGreeting)

	f.conn.EXPECT().TransferToParticipant(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&gateway.ProviderError{Op: "transfer", Message: "rejected"})

	if err := f.disp.Dispatch(context.Background(), testContextID, event("PlayCompleted", "Greeting")); err != nil {
		t.Fatalf("Expected transfer failure to be swallowed, got %v", err)
	}
	if f.store.Phase() != model.PhaseTransferring {
		t.Errorf("Expected Transferring, got %s", f.store.Phase())
	}
}

func TestTransferFailedPlaysApology(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseTransferring)

	f.media.EXPECT().PlayToAll(gomock.Any(), gomock.Any(), "TransferFailed").
		DoAndReturn(func(_ context.Context, src gateway.TextSource, _ string) error {
			if src.Text != dispatch.DefaultPrompts.TransferFailed {
				t.Errorf("Expected transfer failed prompt, got %q", src.Text)
			}
			return nil
		}).Times(1)

	ev := event("CallTransferFailed", "TransferCallToAgent")
	ev.Data.ResultInformation = &model.ResultInformation{Code: 500, SubCode: 8530, Message: "busy"}
	if err := f.disp.Dispatch(context.Background(), testContextID, ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f.store.Phase() != model.PhaseTransferFailedPrompt {
		t.Errorf("Expected TransferFailedPrompt, got %s", f.store.Phase())
	}
}

func TestApologyCompletedHangsUp(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseTransferFailedPrompt)

	f.conn.EXPECT().HangUp(gomock.Any(), true).Return(nil).Times(1)

	if err := f.disp.Dispatch(context.Background(), testContextID, event("PlayCompleted", "TransferFailed")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f.store.Phase() != model.PhaseTerminated {
		t.Errorf("Expected Terminated, got %s", f.store.Phase())
	}
}

func TestTransferAcceptedOnlyLogs(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseTransferring)

	if err := f.disp.Dispatch(context.Background(), testContextID, event("CallTransferAccepted", "TransferCallToAgent")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f.store.Phase() != model.PhaseTransferred {
		t.Errorf("Expected Transferred, got %s", f.store.Phase())
	}
}

func TestDisconnectedFromAnyPhase(t *testing.T) {
	for _, phase := range []model.Phase{
		model.PhaseConnecting,
		model.PhaseGreeting,
		model.PhaseTransferring,
		model.PhaseTransferred,
		model.PhaseTransferFailedPrompt,
	} {
		t.Run(phase.String(), func(t *testing.T) {
			f := newFixture(t)
			f.startCall(t, phase)

			for i := 0; i < 2; i++ {
				if err := f.disp.Dispatch(context.Background(), testContextID, event("CallDisconnected", "")); err != nil {
					t.Fatalf("Dispatch failed: %v", err)
				}
			}
			if f.store.Phase() != model.PhaseTerminated {
				t.Errorf("Expected Terminated, got %s", f.store.Phase())
			}
		})
	}
}

func TestUnknownEventDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseGreeting)
	before, _, _ := f.store.Current()

	if err := f.disp.Dispatch(context.Background(), testContextID, event("Microsoft.Communication.ParticipantsUpdated", "")); err != nil {
		t.Fatalf("Expected unknown events to be ignored, got %v", err)
	}

	after, phase, _ := f.store.Current()
	if after != before {
		t.Errorf("Expected session to be unchanged")
	}
	if phase != model.PhaseGreeting {
		t.Errorf("Expected Greeting, got %s", phase)
	}
}

func TestUnknownEventWithoutSession(t *testing.T) {
	f := newFixture(t)
	if err := f.disp.Dispatch(context.Background(), "", event("RecognizeCompleted", "")); err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
}

func TestEventWithoutSession(t *testing.T) {
	f := newFixture(t)
	err := f.disp.Dispatch(context.Background(), testContextID, event("CallConnected", ""))
	if !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("Expected ErrNoActiveSession, got %v", err)
	}
	f.disp.DispatchBatch(context.Background(), testContextID, []model.CallbackEvent{event("CallConnected", "")})
}

func TestStaleEventsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseConnecting)

	err := f.disp.Dispatch(context.Background(), "previous-call", event("CallConnected", ""))
	if !errors.Is(err, dispatch.ErrStaleEvent) {
		t.Fatalf("Expected ErrStaleEvent for context mismatch, got %v", err)
	}

	ev := event("CallConnected", "")
	ev.Data.CallConnectionID = "CA-other"
	if err := f.disp.Dispatch(context.Background(), testContextID, ev); !errors.Is(err, dispatch.ErrStaleEvent) {
		t.Fatalf("Expected ErrStaleEvent for connection mismatch, got %v", err)
	}
	if f.store.Phase() != model.PhaseConnecting {
		t.Errorf("Expected Connecting, got %s", f.store.Phase())
	}
}

func TestDispatchBatchProcessesEveryEvent(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, model.PhaseConnecting)

	gomock.InOrder(
		f.media.EXPECT().PlayToAll(gomock.Any(), gomock.Any(), "Greeting").Return(nil),
		f.conn.EXPECT().TransferToParticipant(gomock.Any(), agent, gomock.Any()).Return(nil),
	)

	f.disp.DispatchBatch(context.Background(), testContextID, []model.CallbackEvent{
		event("CallConnected", ""),
		event("PlayCompleted", "Greeting"),
		event("CallTransferAccepted", "TransferCallToAgent"),
	})
	if f.store.Phase() != model.PhaseTransferred {
		t.Errorf("Expected Transferred, got %s", f.store.Phase())
	}
}
