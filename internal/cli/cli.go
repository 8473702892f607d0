// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the forge command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/vibeforge/forge-go/internal/client"
	"github.com/vibeforge/forge-go/internal/config"
	"github.com/vibeforge/forge-go/internal/skills"
	"github.com/vibeforge/forge-go/internal/storage"
	"github.com/vibeforge/forge-go/internal/stream"
)

// Version is stamped at build time.
var Version = "dev"

// Context carries the wired application services into command handlers.
type Context struct {
	Config   *config.Config
	Client   *client.Client
	Registry *skills.Registry
	Streams  *stream.Manager
	Store    *storage.Store

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// Handler executes one command.
type Handler func(ctx context.Context, app *Context, args []string) error

// Command describes one top-level command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     Handler
}

// commands is the dispatch table. It is filled in init because HandleHelp
// ranges over it, which a composite literal initializer would make cyclic.
var commands map[string]Command

func init() {
	commands = map[string]Command{
		"login": {
			Name:        "login",
			Description: "Authenticate against the ForgeAgents backend",
			Usage:       "forge login <email>",
			Handler:     HandleLogin,
		},
		"logout": {
			Name:        "logout",
			Description: "Revoke the current session and clear stored credentials",
			Usage:       "forge logout",
			Handler:     HandleLogout,
		},
		"skills": {
			Name:        "skills",
			Description: "List, search or filter the skill registry",
			Usage:       "forge skills [search <query> | section <name> | category <name> | public | bds] [--fresh]",
			Handler:     HandleSkills,
		},
		"skill": {
			Name:        "skill",
			Description: "Show one skill in detail",
			Usage:       "forge skill <id>",
			Handler:     HandleSkill,
		},
		"invoke": {
			Name:        "invoke",
			Description: "Invoke a skill",
			Usage:       "forge invoke <skill-id> [--stream] [key=value ...]",
			Handler:     HandleInvoke,
		},
		"watch": {
			Name:        "watch",
			Description: "Follow the live event stream of a session",
			Usage:       "forge watch <session-id>",
			Handler:     HandleWatch,
		},
		"history": {
			Name:        "history",
			Description: "Show recent invocations",
			Usage:       "forge history [limit]",
			Handler:     HandleHistory,
		},
		"errors": {
			Name:        "errors",
			Description: "Show or clear the local error log",
			Usage:       "forge errors [clear]",
			Handler:     HandleErrors,
		},
		"cache": {
			Name:        "cache",
			Description: "Show client cache statistics",
			Usage:       "forge cache [clear]",
			Handler:     HandleCache,
		},
		"version": {
			Name:        "version",
			Description: "Print the forge version",
			Usage:       "forge version",
			Handler:     HandleVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show this help",
			Usage:       "forge help",
			Handler:     HandleHelp,
		},
	}
}

// Run dispatches args to the matching command handler.
func Run(ctx context.Context, app *Context, args []string) error {
	if len(args) == 0 {
		return HandleHelp(ctx, app, nil)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(app.Stderr, "unknown command %q\n\n", args[0])
		HandleHelp(ctx, app, nil)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.Handler(ctx, app, args[1:])
}

// HandleHelp prints the command table.
func HandleHelp(ctx context.Context, app *Context, args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(app.Stdout, "forge - VibeForge skill invocation client")
	fmt.Fprintln(app.Stdout)
	fmt.Fprintln(app.Stdout, "Commands:")
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(app.Stdout, "  %-10s %s\n", cmd.Name, cmd.Description)
		fmt.Fprintf(app.Stdout, "  %-10s usage: %s\n", "", cmd.Usage)
	}
	return nil
}

// HandleVersion prints the build version.
func HandleVersion(ctx context.Context, app *Context, args []string) error {
	fmt.Fprintf(app.Stdout, "forge %s\n", Version)
	return nil
}
