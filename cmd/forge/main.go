// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command forge is the VibeForge skill invocation client.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vibeforge/forge-go/internal/auth"
	"github.com/vibeforge/forge-go/internal/cli"
	"github.com/vibeforge/forge-go/internal/client"
	"github.com/vibeforge/forge-go/internal/config"
	"github.com/vibeforge/forge-go/internal/skills"
	"github.com/vibeforge/forge-go/internal/storage"
	"github.com/vibeforge/forge-go/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stateDir, err := cfg.StateDir()
	if err != nil {
		return err
	}

	// Internal logging goes to a file; stdout stays clean for command output.
	closeLog := setupLogging(stateDir)
	defer closeLog()

	credStore, err := auth.NewEncryptedFileStore(stateDir)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	tokens := auth.NewTokenManager(credStore)
	tokens.Initialize()

	apiClient := client.New(cfg, tokens)
	registry := skills.NewRegistry(func(ctx context.Context) (*client.ListSkillsResponse, error) {
		return apiClient.ListSkills(ctx)
	})
	streams := stream.NewManager(nil)
	defer streams.CloseAll()

	store, err := storage.Open(filepath.Join(stateDir, "forge.db"))
	if err != nil {
		// History and the error log are conveniences; the client still works.
		log.Printf("[main] local storage unavailable: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	app := &cli.Context{
		Config:   cfg,
		Client:   apiClient,
		Registry: registry,
		Streams:  streams,
		Store:    store,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Stdin:    os.Stdin,
	}
	return cli.Run(ctx, app, os.Args[1:])
}

// setupLogging sends the internal log to <state>/forge.log so command
// output is not interleaved with diagnostics.
func setupLogging(stateDir string) func() {
	path := filepath.Join(stateDir, "forge.log")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	log.SetOutput(f)
	return func() { f.Close() }
}
