// Package twiml parses the TwiML verbs the gateway emits so they can be
// executed by the sandbox and inspected in tests.
package twiml

import "time"

// Node is the interface for all TwiML AST nodes
type Node interface {
	isNode()
}

// Response is the root TwiML element
type Response struct {
	Children []Node
}

func (Response) isNode() {}

// Say outputs text-to-speech
type Say struct {
	Text     string
	Voice    string
	Language string
}

func (Say) isNode() {}

// Pause waits for a specified duration
type Pause struct {
	Length time.Duration
}

func (Pause) isNode() {}

// Dial connects the call to another party
type Dial struct {
	Action  string
	Method  string
	Timeout time.Duration
	Numbers []*Number
}

func (Dial) isNode() {}

// Number is used inside <Dial> to specify a phone number. URL is requested
// on the dialed leg once it answers.
type Number struct {
	Number string
	URL    string
	Method string
}

func (Number) isNode() {}

// Redirect fetches new TwiML from a URL
type Redirect struct {
	URL    string
	Method string
}

func (Redirect) isNode() {}

// Hangup ends the call
type Hangup struct{}

func (Hangup) isNode() {}
