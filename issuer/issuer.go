// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package issuer translates workflow intents into provider commands.
package issuer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/model"
	"github.com/sprucehealth/agentbridge/session"
)

// ConfigurationError reports a required setting that is not configured
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not set", e.Setting)
}

// Settings is the fixed configuration the issuer applies to every command
type Settings struct {
	SourceNumber              string
	AgentNumber               string
	CognitiveServicesEndpoint string
	VoiceName                 string
	Language                  string
}

// Issuer wraps a gateway with the workflow's vocabulary
type Issuer struct {
	gw       gateway.Gateway
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an issuer
func New(gw gateway.Gateway, settings Settings, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{
		gw:       gw,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// PlaceOutboundCall asks the provider to call targetNumber, delivering
// lifecycle events to callbackURL
func (i *Issuer) PlaceOutboundCall(ctx context.Context, targetNumber, callbackURL string) (*session.Session, error) {
	if i.settings.SourceNumber == "" {
		return nil, &ConfigurationError{Setting: "SOURCE_PHONE_NUMBER"}
	}

	conn, err := i.gw.CreateCall(ctx, gateway.CreateCallOptions{
		Target:                    targetNumber,
		Source:                    i.settings.SourceNumber,
		CallbackURL:               callbackURL,
		CognitiveServicesEndpoint: i.settings.CognitiveServicesEndpoint,
	})
	if err != nil {
		return nil, gateway.AsProviderError("create call", err)
	}

	sess := &session.Session{
		ConnectionID:   conn.ID(),
		Connection:     conn,
		Media:          conn.Media(),
		CustomerNumber: targetNumber,
		CreatedAt:      i.now(),
	}
	i.logger.Info("Outbound call created",
		zap.String("call_connection_id", sess.ConnectionID),
		zap.String("target", targetNumber))
	return sess, nil
}

// PlayPrompt plays text to every participant. Failures are logged and not
// returned since playback often fails on calls that have already ended.
func (i *Issuer) PlayPrompt(ctx context.Context, media gateway.Media, text string, opCtx model.OperationContext) {
	if media == nil {
		i.logger.Error("Cannot play prompt without a media handle", zap.String("operation_context", opCtx.String()))
		return
	}
	source := gateway.TextSource{
		Text:      text,
		VoiceName: i.settings.VoiceName,
		Language:  i.settings.Language,
	}
	i.logger.Info("Playing text", zap.String("text", text), zap.String("operation_context", opCtx.String()))
	if err := media.PlayToAll(ctx, source, opCtx.String()); err != nil {
		i.logger.Error("Error playing text",
			zap.String("operation_context", opCtx.String()),
			zap.Error(gateway.AsProviderError("play", err)))
	}
}

// TransferToAgent transfers the customer's leg to the configured agent
func (i *Issuer) TransferToAgent(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.Connection == nil {
		return session.ErrNoActiveSession
	}
	if i.settings.AgentNumber == "" {
		return &ConfigurationError{Setting: "AGENT_PHONE_NUMBER"}
	}
	err := sess.Connection.TransferToParticipant(ctx, i.settings.AgentNumber, gateway.TransferOptions{
		Transferee:       sess.CustomerNumber,
		OperationContext: model.ContextTransferCallToAgent.String(),
	})
	if err != nil {
		return gateway.AsProviderError("transfer", err)
	}
	i.logger.Info("Transfer call initiated",
		zap.String("call_connection_id", sess.ConnectionID),
		zap.String("agent", i.settings.AgentNumber))
	return nil
}

// HangUp ends the call for every participant. It is best effort.
func (i *Issuer) HangUp(ctx context.Context, sess *session.Session) {
	if sess == nil || sess.Connection == nil {
		i.logger.Warn("Hang up requested without an active call")
		return
	}
	if err := sess.Connection.HangUp(ctx, true); err != nil {
		i.logger.Warn("Error hanging up call",
			zap.String("call_connection_id", sess.ConnectionID),
			zap.Error(gateway.AsProviderError("hang up", err)))
		return
	}
	i.logger.Info("Call hung up", zap.String("call_connection_id", sess.ConnectionID))
}
