package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/twiml"
)

// ErrCallHungup is returned when a Hangup verb is executed
var ErrCallHungup = errors.New("call hungup via Hangup verb")

// command is what the call executes next: an inline document, a document
// fetched from url with form, or the end of the call
type command struct {
	doc    *twiml.Response
	url    string
	form   url.Values
	hangup bool
}

// runner executes TwiML for one call
type runner struct {
	call     *Call
	engine   *Engine
	behavior Behavior
	commands chan command
}

func newRunner(call *Call, engine *Engine, behavior Behavior) *runner {
	return &runner{
		call:     call,
		engine:   engine,
		behavior: behavior,
		commands: make(chan command, 1),
	}
}

// send replaces any command the runner has not picked up yet
func (r *runner) send(cmd command) {
	for {
		select {
		case r.commands <- cmd:
			return
		default:
		}
		select {
		case <-r.commands:
		default:
		}
	}
}

// pending returns a command received while the runner was busy
func (r *runner) pending() (command, bool) {
	select {
	case cmd := <-r.commands:
		return cmd, true
	default:
		return command{}, false
	}
}

func (r *runner) run(ctx context.Context, start command) {
	defer r.end(CallCompleted)

	r.updateStatus(CallRinging)

	ring := r.engine.clock.After(r.engine.ringDelay)
	for ringing := true; ringing; {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			if cmd.hangup {
				r.end(CallCanceled)
				return
			}
			start = cmd
		case <-ring:
			ringing = false
		}
	}

	switch r.behavior {
	case Busy:
		r.end(CallBusy)
		return
	case NoAnswer:
		r.end(CallNoAnswer)
		return
	case Fail:
		r.end(CallFailed)
		return
	}

	r.updateStatus(CallInProgress)

	cmd := start
	for {
		next, err := r.execute(ctx, cmd)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrCallHungup):
			return
		case err != nil:
			r.engine.logger.Warn("Sandbox call application error",
				zap.String("call_sid", r.call.SID.String()), zap.Error(err))
			r.addEvent("call.application_error", map[string]any{"error": err.Error()})
			return
		case next == nil:
			r.addEvent("twiml.finished", nil)
			return
		case next.hangup:
			return
		}
		cmd = *next
	}
}

// execute runs one document. It returns the command to continue with, or
// nil when the document ran out of verbs.
func (r *runner) execute(ctx context.Context, cmd command) (*command, error) {
	doc, docURL := cmd.doc, cmd.url
	if doc == nil {
		resp, err := r.fetchTwiML(ctx, cmd.url, cmd.form)
		if err != nil {
			return nil, err
		}
		doc = resp
		// An update issued while the request was in flight wins
		if next, ok := r.pending(); ok {
			return &next, nil
		}
	}

	for _, node := range doc.Children {
		var next *command
		var err error

		switch n := node.(type) {
		case *twiml.Say:
			next, err = r.executeSay(ctx, n)
		case *twiml.Pause:
			r.addEvent("twiml.pause", map[string]any{"length": n.Length.Seconds()})
			next, err = r.wait(ctx, n.Length)
		case *twiml.Redirect:
			r.addEvent("twiml.redirect", map[string]any{"url": n.URL})
			target, err := resolveURL(docURL, n.URL)
			if err != nil {
				return nil, err
			}
			return &command{url: target}, nil
		case *twiml.Dial:
			next, err = r.executeDial(ctx, n, docURL)
		case *twiml.Hangup:
			r.addEvent("twiml.hangup", nil)
			return nil, ErrCallHungup
		default:
			return nil, fmt.Errorf("unsupported verb %T", node)
		}

		if err != nil || next != nil {
			return next, err
		}
	}
	return nil, nil
}

func (r *runner) executeSay(ctx context.Context, say *twiml.Say) (*command, error) {
	r.addEvent("twiml.say", map[string]any{
		"text":     say.Text,
		"voice":    say.Voice,
		"language": say.Language,
	})
	return r.wait(ctx, time.Duration(len(say.Text))*r.engine.speechRate)
}

// executeDial calls the first number and bridges it per the agent behavior
func (r *runner) executeDial(ctx context.Context, dial *twiml.Dial, docURL string) (*command, error) {
	if len(dial.Numbers) == 0 {
		return nil, fmt.Errorf("<Dial> has no number")
	}
	num := dial.Numbers[0]

	r.engine.mu.Lock()
	child := r.engine.createChildCall(r.call, num.Number)
	r.engine.updateCallStatus(child, CallRinging)
	r.engine.mu.Unlock()

	r.addEvent("twiml.dial", map[string]any{
		"number":    num.Number,
		"child_sid": child.SID,
		"timeout":   dial.Timeout.Seconds(),
	})

	startedAt := r.engine.clock.Now()
	dialStatus, next, err := r.dialAgent(ctx, dial, num, child, docURL)
	if err != nil || next != nil {
		r.endChild(child, CallCanceled)
		return next, err
	}

	duration := int(r.engine.clock.Now().Sub(startedAt).Seconds())
	r.addEvent("dial.finished", map[string]any{
		"child_sid":   child.SID,
		"dial_status": dialStatus,
		"duration":    duration,
	})

	if dial.Action == "" {
		return nil, nil
	}
	target, err := resolveURL(docURL, dial.Action)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("DialCallStatus", dialStatus)
	form.Set("DialCallSid", string(child.SID))
	form.Set("DialCallDuration", fmt.Sprintf("%d", duration))
	return &command{url: target, form: form}, nil
}

func (r *runner) dialAgent(ctx context.Context, dial *twiml.Dial, num *twiml.Number, child *Call, docURL string) (string, *command, error) {
	ringDelay := r.engine.ringDelay
	if r.engine.agent == NoAnswer {
		ringDelay = dial.Timeout
	}
	if next, err := r.wait(ctx, ringDelay); err != nil || next != nil {
		return "", next, err
	}

	switch r.engine.agent {
	case Busy:
		r.endChild(child, CallBusy)
		return string(CallBusy), nil, nil
	case NoAnswer:
		r.endChild(child, CallNoAnswer)
		return string(CallNoAnswer), nil, nil
	case Fail:
		r.endChild(child, CallFailed)
		return string(CallFailed), nil, nil
	}

	r.engine.mu.Lock()
	r.engine.updateCallStatus(child, CallInProgress)
	r.engine.mu.Unlock()

	if num.URL != "" {
		target, err := resolveURL(docURL, num.URL)
		if err != nil {
			return "", nil, err
		}
		form := url.Values{}
		form.Set("CallSid", string(child.SID))
		form.Set("ParentCallSid", string(r.call.SID))
		form.Set("To", child.To)
		// The agent leg hears the returned document before it is bridged
		if _, err := r.post(ctx, target, form); err != nil {
			r.endChild(child, CallFailed)
			return string(CallFailed), nil, nil
		}
	}

	r.addEvent("dial.bridged", map[string]any{"child_sid": child.SID})
	if next, err := r.wait(ctx, r.engine.talkTime); err != nil || next != nil {
		return "", next, err
	}
	r.endChild(child, CallCompleted)
	return string(CallCompleted), nil, nil
}

// wait blocks for d unless the call receives a new command first
func (r *runner) wait(ctx context.Context, d time.Duration) (*command, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cmd := <-r.commands:
		return &cmd, nil
	case <-r.engine.clock.After(d):
		return nil, nil
	}
}

func (r *runner) fetchTwiML(ctx context.Context, targetURL string, form url.Values) (*twiml.Response, error) {
	r.engine.mu.RLock()
	callForm := r.engine.buildCallbackForm(r.call)
	r.engine.mu.RUnlock()
	for k, v := range form {
		callForm[k] = v
	}

	body, err := r.post(ctx, targetURL, callForm)
	if err != nil {
		return nil, err
	}

	resp, err := twiml.Parse(body)
	if err != nil {
		r.addEvent("twiml.parse_error", map[string]any{
			"error": err.Error(),
			"body":  string(body),
		})
		return nil, fmt.Errorf("failed to parse TwiML: %w", err)
	}
	return resp, nil
}

func (r *runner) post(ctx context.Context, targetURL string, form url.Values) ([]byte, error) {
	r.addEvent("webhook.request", map[string]any{
		"url":  targetURL,
		"form": form,
	})

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status, body, _, err := r.engine.webhook.POST(reqCtx, targetURL, form)
	if err != nil {
		r.addEvent("webhook.error", map[string]any{
			"url":   targetURL,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	r.addEvent("webhook.response", map[string]any{
		"url":    targetURL,
		"status": status,
		"body":   string(body),
	})
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("webhook %s returned status %d", targetURL, status)
	}
	return body, nil
}

func (r *runner) updateStatus(status CallStatus) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.engine.updateCallStatus(r.call, status)
}

func (r *runner) end(status CallStatus) {
	r.endChild(r.call, status)
}

func (r *runner) endChild(call *Call, status CallStatus) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.engine.endCall(call, status)
}

func (r *runner) addEvent(eventType string, detail map[string]any) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.call.Timeline = append(r.call.Timeline, NewEvent(r.engine.clock.Now(), eventType, detail))
}

// resolveURL resolves URL relative to the current TwiML document URL
func resolveURL(currentDocURL, actionURL string) (string, error) {
	target, err := url.Parse(actionURL)
	if err != nil {
		return "", fmt.Errorf("invalid action URL %q: %w", actionURL, err)
	}

	if target.IsAbs() {
		return target.String(), nil
	}

	if currentDocURL == "" {
		return "", fmt.Errorf("cannot resolve relative action URL %q without base", actionURL)
	}

	base, err := url.Parse(currentDocURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", currentDocURL, err)
	}

	return base.ResolveReference(target).String(), nil
}
