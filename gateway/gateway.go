// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package gateway describes the call-control capabilities the workflow needs
// from a cloud communications provider.
package gateway

//go:generate mockgen -destination=mock/gateway.go -package=mock . Gateway,Connection,Media

import "context"

// Gateway places outbound calls
type Gateway interface {
	// CreateCall requests a new call. Lifecycle events for the call are
	// delivered asynchronously to opts.CallbackURL.
	CreateCall(ctx context.Context, opts CreateCallOptions) (Connection, error)
}

// Connection is the handle of an established call
type Connection interface {
	ID() string
	Media() Media
	TransferToParticipant(ctx context.Context, target string, opts TransferOptions) error
	HangUp(ctx context.Context, forEveryone bool) error
}

// Media issues audio commands on a call
type Media interface {
	// PlayToAll plays source to every participant. Completion is reported
	// later by a PlayCompleted event echoing operationContext.
	PlayToAll(ctx context.Context, source TextSource, operationContext string) error
}

// CreateCallOptions describes an outbound call request
type CreateCallOptions struct {
	Target                    string
	Source                    string
	CallbackURL               string
	CognitiveServicesEndpoint string
}

// TextSource is a text-to-speech prompt
type TextSource struct {
	Text      string
	VoiceName string
	Language  string
}

// TransferOptions describes a transfer of the call to another participant
type TransferOptions struct {
	// Transferee is the participant whose leg is transferred
	Transferee       string
	OperationContext string
}
