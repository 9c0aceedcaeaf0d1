// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/api"
	"github.com/sprucehealth/agentbridge/config"
	"github.com/sprucehealth/agentbridge/dispatch"
	"github.com/sprucehealth/agentbridge/issuer"
	"github.com/sprucehealth/agentbridge/logging"
	"github.com/sprucehealth/agentbridge/sandbox"
	"github.com/sprucehealth/agentbridge/session"
	"github.com/sprucehealth/agentbridge/twiliogw"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var (
		calls  twiliogw.CallsAPI
		engine *sandbox.Engine
	)
	switch cfg.Provider {
	case config.ProviderSandbox:
		engine = sandbox.NewEngine(sandbox.WithLogger(logger.Named("sandbox")))
		defer engine.Close()
		calls = engine
	default:
		calls = twiliogw.NewRestAPI(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	}

	gw := twiliogw.New(calls, twiliogw.WithLogger(logger.Named("twilio")))
	iss := issuer.New(gw, issuer.Settings{
		SourceNumber:              cfg.SourcePhoneNumber,
		AgentNumber:               cfg.AgentPhoneNumber,
		CognitiveServicesEndpoint: cfg.CognitiveServiceEndpoint,
		VoiceName:                 cfg.VoiceName,
		Language:                  cfg.VoiceLanguage,
	}, logger.Named("issuer"))

	dispatcher := dispatch.New(session.NewStore(), iss, cfg.CallbackURI,
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithPrompts(dispatch.Prompts{
			Greeting:       cfg.GreetingPrompt,
			TransferFailed: cfg.TransferFailedPrompt,
		}))

	server, err := api.NewServer(cfg.Addr(), dispatcher, logger.Named("api"))
	if err != nil {
		return err
	}
	hooks := twiliogw.NewWebhooks(dispatcher, twiliogw.WithWebhookLogger(logger.Named("webhooks")))
	defer hooks.Close()
	hooks.Register(server.Router())
	if engine != nil {
		sandbox.NewConsole(engine).Register(server.Router())
	}

	logger.Info("Starting agentbridge",
		zap.Int("port", cfg.Port),
		zap.String("provider", cfg.Provider),
		zap.String("callback_uri", cfg.CallbackURI))

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errc:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
