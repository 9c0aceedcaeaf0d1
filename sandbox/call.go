// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// SID represents a Twilio-like Session ID with a prefix
type SID string

func (s SID) String() string {
	return string(s)
}

// CallStatus represents the current status of a call
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether the call has ended
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallCompleted, CallBusy, CallFailed, CallNoAnswer, CallCanceled:
		return true
	}
	return false
}

// statusEvent is the StatusCallbackEvent that reports a status
func (s CallStatus) statusEvent() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallInProgress:
		return "answered"
	case CallQueued:
		return "initiated"
	}
	return "completed"
}

// Behavior is how a simulated party reacts when it is called
type Behavior string

const (
	Answer   Behavior = "answer"
	Busy     Behavior = "busy"
	NoAnswer Behavior = "no-answer"
	Fail     Behavior = "failed"
)

// Direction represents whether a call was placed through the API or by a Dial
type Direction string

const (
	OutboundAPI  Direction = "outbound-api"
	OutboundDial Direction = "outbound-dial"
)

// Call represents a simulated voice call leg
type Call struct {
	SID                  SID        `json:"sid"`
	AccountSID           SID        `json:"account_sid"`
	From                 string     `json:"from"`
	To                   string     `json:"to"`
	Direction            Direction  `json:"direction"`
	Status               CallStatus `json:"status"`
	StartAt              time.Time  `json:"start_at"`
	AnsweredAt           *time.Time `json:"answered_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	ParentCallSID        *SID       `json:"parent_call_sid,omitempty"`
	ChildCallSIDs        []SID      `json:"child_call_sids,omitempty"`
	StatusCallback       string     `json:"status_callback,omitempty"`
	StatusCallbackEvents []string   `json:"status_callback_events,omitempty"`
	Timeline             []Event    `json:"timeline"`

	// CallbackQueue serializes status callbacks for this call
	CallbackQueue chan func() `json:"-"`
}

// wantsCallback reports whether status changes to s are reported
func (c *Call) wantsCallback(s CallStatus) bool {
	if c.StatusCallback == "" {
		return false
	}
	event := s.statusEvent()
	if len(c.StatusCallbackEvents) == 0 {
		return event == "completed"
	}
	for _, e := range c.StatusCallbackEvents {
		if e == event {
			return true
		}
	}
	return false
}

func (c *Call) clone() *Call {
	cp := *c
	cp.Timeline = append([]Event{}, c.Timeline...)
	cp.ChildCallSIDs = append([]SID(nil), c.ChildCallSIDs...)
	cp.StatusCallbackEvents = append([]string(nil), c.StatusCallbackEvents...)
	cp.CallbackQueue = nil
	return &cp
}

// Event represents a timeline event for a call
type Event struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"` // "webhook.request", "status.changed", "twiml.say", etc.
	Detail map[string]any `json:"detail"`
}

// NewEvent creates a new timeline event
func NewEvent(t time.Time, eventType string, detail map[string]any) Event {
	if detail == nil {
		detail = make(map[string]any)
	}
	return Event{
		Time:   t,
		Type:   eventType,
		Detail: detail,
	}
}

var callCounter uint64

// NewCallSID generates a new Call SID (CAFAKE prefix, 34 chars total)
func NewCallSID() SID {
	counter := atomic.AddUint64(&callCounter, 1)
	b := make([]byte, 7)
	_, _ = rand.Read(b)
	return SID(fmt.Sprintf("CAFAKE%014x%s", counter, hex.EncodeToString(b)))
}
