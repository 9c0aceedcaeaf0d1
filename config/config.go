// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package config loads the service settings from flags, the environment and
// an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sprucehealth/agentbridge/dispatch"
)

// Providers
const (
	ProviderTwilio  = "twilio"
	ProviderSandbox = "sandbox"
)

// Config holds the service configuration
type Config struct {
	// HTTP server settings
	Port int

	// CallbackURI is the public base URL the provider posts events to
	CallbackURI string

	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string

	SourcePhoneNumber        string
	AgentPhoneNumber         string
	CognitiveServiceEndpoint string
	VoiceName                string
	VoiceLanguage            string

	GreetingPrompt       string
	TransferFailedPrompt string

	LogLevel  string
	LogFormat string

	EnvFile string
}

// Load loads configuration from command line flags and environment
// variables. Variables from the .env file never override the real
// environment.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fset := flag.NewFlagSet("agentbridge", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", 8080, "HTTP listening port")
	fset.StringVar(&cfg.CallbackURI, "callback-uri", "", "Public base URL for provider callbacks")
	fset.StringVar(&cfg.Provider, "provider", ProviderTwilio, "Call provider (twilio, sandbox)")
	fset.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fset.StringVar(&cfg.LogFormat, "logformat", "json", "Log format (json, console)")
	fset.StringVar(&cfg.EnvFile, "env-file", ".env", "Optional dotenv file")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		cfg.EnvFile = envFile
	}
	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", cfg.EnvFile, err)
		}
	}

	cfg.VoiceName = "Polly.Joanna-Neural"
	cfg.VoiceLanguage = "en-US"
	cfg.GreetingPrompt = dispatch.DefaultPrompts.Greeting
	cfg.TransferFailedPrompt = dispatch.DefaultPrompts.TransferFailed

	// Override with environment variables if set
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("invalid PORT %q", port)
		}
		cfg.Port = p
	}
	setFromEnv(&cfg.CallbackURI, "CALLBACK_URI")
	setFromEnv(&cfg.Provider, "PROVIDER")
	setFromEnv(&cfg.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	setFromEnv(&cfg.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	setFromEnv(&cfg.SourcePhoneNumber, "SOURCE_PHONE_NUMBER")
	setFromEnv(&cfg.AgentPhoneNumber, "AGENT_PHONE_NUMBER")
	setFromEnv(&cfg.CognitiveServiceEndpoint, "COGNITIVE_SERVICE_ENDPOINT")
	setFromEnv(&cfg.VoiceName, "VOICE_NAME")
	setFromEnv(&cfg.VoiceLanguage, "VOICE_LANGUAGE")
	setFromEnv(&cfg.GreetingPrompt, "GREETING_PROMPT")
	setFromEnv(&cfg.TransferFailedPrompt, "TRANSFER_FAILED_PROMPT")
	setFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	setFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate returns an error for settings the service cannot start without,
// and warnings for settings that only fail the operations that need them
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string
	if c.CallbackURI == "" {
		problems = append(problems, "CALLBACK_URI is required")
	} else if u, perr := url.Parse(c.CallbackURI); perr != nil || !u.IsAbs() || u.Host == "" {
		problems = append(problems, fmt.Sprintf("CALLBACK_URI %q is not an absolute URL", c.CallbackURI))
	}
	switch c.Provider {
	case ProviderTwilio:
		if c.TwilioAccountSID == "" {
			problems = append(problems, "TWILIO_ACCOUNT_SID is required for the twilio provider")
		}
		if c.TwilioAuthToken == "" {
			problems = append(problems, "TWILIO_AUTH_TOKEN is required for the twilio provider")
		}
	case ProviderSandbox:
	default:
		problems = append(problems, fmt.Sprintf("unknown PROVIDER %q", c.Provider))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Port))
	}

	if c.SourcePhoneNumber == "" {
		warnings = append(warnings, "SOURCE_PHONE_NUMBER is not set; outbound calls will fail")
	}
	if c.AgentPhoneNumber == "" {
		warnings = append(warnings, "AGENT_PHONE_NUMBER is not set; transfers will fail")
	}

	if len(problems) > 0 {
		return warnings, errors.New(strings.Join(problems, "; "))
	}
	return warnings, nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
