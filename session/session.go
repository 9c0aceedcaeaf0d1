// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package session holds the state of the single call the process is driving.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/model"
)

// ErrNoActiveSession is returned when an operation needs a call but none has
// been started
var ErrNoActiveSession = errors.New("no active call session")

// Session describes the active call. Fields are set once when the call is
// created and never mutated.
type Session struct {
	// ContextID is the random identifier embedded in this call's callback URL
	ContextID      string
	ConnectionID   string
	Connection     gateway.Connection
	Media          gateway.Media
	CustomerNumber string
	Greeting       string
	CreatedAt      time.Time
}

// Store owns the one live session and its workflow phase
type Store struct {
	mu      sync.RWMutex
	current *Session
	phase   model.Phase
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{phase: model.PhaseIdle}
}

// Start replaces any previous session with sess
func (s *Store) Start(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	s.phase = model.PhaseConnecting
}

// Current returns the live session and its phase
func (s *Store) Current() (*Session, model.Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, model.PhaseIdle, ErrNoActiveSession
	}
	return s.current, s.phase, nil
}

// Phase returns the current phase, PhaseIdle when no call was started
func (s *Store) Phase() model.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Advance moves the live session to phase
func (s *Store) Advance(phase model.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoActiveSession
	}
	s.phase = phase
	return nil
}
