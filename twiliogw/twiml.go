// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiliogw

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/sprucehealth/agentbridge/gateway"
)

// DefaultHoldLength is the pause played while waiting for the next command
const DefaultHoldLength = 60 * time.Second

// Webhook routes relative to a call's callback URL
const (
	routeStatus           = "twilio/status"
	routeHold             = "twilio/hold"
	routePlayed           = "twilio/played"
	routeTransfer         = "twilio/transfer"
	routeTransferAnswered = "twilio/transfer/answered"
)

const (
	paramOperationContext = "operationContext"
	paramCallConnectionID = "callConnectionId"
)

// routeURL resolves route against the callback URL of a call
func routeURL(callbackURL, route string, query url.Values) string {
	base, err := url.Parse(callbackURL)
	if err != nil {
		return callbackURL
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
		base.RawPath = ""
	}
	target := base.ResolveReference(&url.URL{Path: route})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func holdTwiML(redirectURL string, length time.Duration) (string, error) {
	seconds := int(length / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return twiml.Voice([]twiml.Element{
		&twiml.VoicePause{Length: strconv.Itoa(seconds)},
		&twiml.VoiceRedirect{Url: redirectURL, Method: "POST"},
	})
}

func sayTwiML(source gateway.TextSource, playedURL string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: source.Text, Voice: source.VoiceName, Language: source.Language},
		&twiml.VoiceRedirect{Url: playedURL, Method: "POST"},
	})
}

func transferTwiML(target, actionURL, answeredURL string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceDial{
			Action: actionURL,
			Method: "POST",
			InnerElements: []twiml.Element{
				&twiml.VoiceNumber{PhoneNumber: target, Url: answeredURL, Method: "POST"},
			},
		},
	})
}

func hangupTwiML() (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
}

func emptyTwiML() (string, error) {
	return twiml.Voice([]twiml.Element{})
}

func providerError(op string, err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return &gateway.ProviderError{
			Op:      op,
			Code:    restErr.Code,
			Status:  restErr.Status,
			Message: restErr.Message,
			Err:     err,
		}
	}
	return &gateway.ProviderError{Op: op, Err: fmt.Errorf("twilio: %w", err)}
}
