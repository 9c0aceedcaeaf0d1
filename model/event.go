// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

import (
	"strings"
)

// EventKind classifies an inbound callback event type
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCallConnected
	EventPlayCompleted
	EventCallTransferAccepted
	EventCallTransferFailed
	EventCallDisconnected
)

// Canonical event type names. Providers may prefix them with a namespace
// such as "Microsoft.Communication.".
const (
	TypeCallConnected        = "CallConnected"
	TypePlayCompleted        = "PlayCompleted"
	TypeCallTransferAccepted = "CallTransferAccepted"
	TypeCallTransferFailed   = "CallTransferFailed"
	TypeCallDisconnected     = "CallDisconnected"
)

var eventKinds = map[string]EventKind{
	TypeCallConnected:        EventCallConnected,
	TypePlayCompleted:        EventPlayCompleted,
	TypeCallTransferAccepted: EventCallTransferAccepted,
	TypeCallTransferFailed:   EventCallTransferFailed,
	TypeCallDisconnected:     EventCallDisconnected,
}

func (k EventKind) String() string {
	for name, kind := range eventKinds {
		if kind == k {
			return name
		}
	}
	return "Unknown"
}

// ParseEventKind maps a bare or namespaced event type to its kind
func ParseEventKind(eventType string) EventKind {
	name := eventType
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if kind, ok := eventKinds[name]; ok {
		return kind
	}
	return EventUnknown
}

// ResultInformation describes the outcome of a provider operation
type ResultInformation struct {
	Code    int    `json:"code"`
	SubCode int    `json:"subCode"`
	Message string `json:"message"`
}

// EventData is the event-specific payload of a callback event
type EventData struct {
	CallConnectionID  string             `json:"callConnectionId,omitempty"`
	ServerCallID      string             `json:"serverCallId,omitempty"`
	CorrelationID     string             `json:"correlationId,omitempty"`
	OperationContext  string             `json:"operationContext,omitempty"`
	ResultInformation *ResultInformation `json:"resultInformation,omitempty"`
}

// CallbackEvent is one entry of a provider webhook batch. Time is kept as
// the provider sent it.
type CallbackEvent struct {
	ID      string    `json:"id,omitempty"`
	Source  string    `json:"source,omitempty"`
	Type    string    `json:"type"`
	Subject string    `json:"subject,omitempty"`
	Time    string    `json:"time,omitempty"`
	Data    EventData `json:"data"`
}

// Kind classifies the event type
func (e CallbackEvent) Kind() EventKind {
	return ParseEventKind(e.Type)
}
