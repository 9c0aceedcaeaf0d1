// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

// OperationContext tags an outbound command so its completion event can be
// attributed to a workflow step
type OperationContext string

const (
	ContextGreeting            OperationContext = "Greeting"
	ContextTransferFailed      OperationContext = "TransferFailed"
	ContextTransferCallToAgent OperationContext = "TransferCallToAgent"
)

func (c OperationContext) String() string {
	return string(c)
}

// ParseOperationContext returns the known context for s, or false
func ParseOperationContext(s string) (OperationContext, bool) {
	switch c := OperationContext(s); c {
	case ContextGreeting, ContextTransferFailed, ContextTransferCallToAgent:
		return c, true
	default:
		return "", false
	}
}

// Phase is the workflow position of the active call
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseGreeting
	PhaseTransferring
	PhaseTransferred
	PhaseTransferFailedPrompt
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseConnecting:
		return "Connecting"
	case PhaseGreeting:
		return "Greeting"
	case PhaseTransferring:
		return "Transferring"
	case PhaseTransferred:
		return "Transferred"
	case PhaseTransferFailedPrompt:
		return "TransferFailedPrompt"
	case PhaseTerminated:
		return "Terminated"
	default:
		return "Invalid"
	}
}

// Action is the command the dispatcher issues for a transition
type Action int

const (
	ActionNone Action = iota
	ActionGreet
	ActionTransfer
	ActionPlayTransferFailed
	ActionHangUp
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionGreet:
		return "greet"
	case ActionTransfer:
		return "transfer"
	case ActionPlayTransferFailed:
		return "play-transfer-failed"
	case ActionHangUp:
		return "hang-up"
	default:
		return "invalid"
	}
}

// Transition is the outcome of applying an event to a phase
type Transition struct {
	Action Action
	Next   Phase
}

// Next applies an event to the phase. It returns false when the event has no
// meaning in this phase; the caller must then leave the phase unchanged.
// Each transition issues at most one command.
func (p Phase) Next(kind EventKind, opCtx OperationContext) (Transition, bool) {
	switch kind {
	case EventCallDisconnected:
		if p == PhaseTerminated {
			return Transition{}, false
		}
		return Transition{Action: ActionNone, Next: PhaseTerminated}, true
	case EventCallConnected:
		if p == PhaseConnecting {
			return Transition{Action: ActionGreet, Next: PhaseGreeting}, true
		}
	case EventPlayCompleted:
		switch {
		case p == PhaseGreeting && opCtx == ContextGreeting:
			return Transition{Action: ActionTransfer, Next: PhaseTransferring}, true
		case p == PhaseTransferFailedPrompt && opCtx == ContextTransferFailed:
			return Transition{Action: ActionHangUp, Next: PhaseTerminated}, true
		}
	case EventCallTransferAccepted:
		if p == PhaseTransferring {
			return Transition{Action: ActionNone, Next: PhaseTransferred}, true
		}
	case EventCallTransferFailed:
		if p == PhaseTransferring {
			return Transition{Action: ActionPlayTransferFailed, Next: PhaseTransferFailedPrompt}, true
		}
	}
	return Transition{}, false
}
