// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/vibeforge/forge-go/internal/apierror"
	"github.com/vibeforge/forge-go/internal/client"
	"github.com/vibeforge/forge-go/internal/stream"
)

// =============================================================================
// AUTH
// =============================================================================

// HandleLogin prompts for a password and establishes a session.
func HandleLogin(ctx context.Context, app *Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: forge login <email>")
	}
	email := args[0]

	password, err := readPassword(app, fmt.Sprintf("Password for %s: ", email))
	if err != nil {
		return err
	}

	if _, err := app.Client.Login(ctx, email, password); err != nil {
		return reportError(app, err)
	}
	fmt.Fprintf(app.Stdout, "Logged in as %s\n", email)
	return nil
}

// HandleLogout revokes the session and clears credentials.
func HandleLogout(ctx context.Context, app *Context, args []string) error {
	app.Client.Logout(ctx)
	fmt.Fprintln(app.Stdout, "Logged out")
	return nil
}

// readPassword reads a password without echo when stdin is a terminal and
// falls back to a plain line read otherwise.
func readPassword(app *Context, prompt string) (string, error) {
	fmt.Fprint(app.Stdout, prompt)
	if f, ok := app.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(app.Stdout)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(app.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// =============================================================================
// SKILLS
// =============================================================================

// HandleSkills lists the registry or searches it.
func HandleSkills(ctx context.Context, app *Context, args []string) error {
	fresh := false
	var rest []string
	for _, arg := range args {
		if arg == "--fresh" {
			fresh = true
			continue
		}
		rest = append(rest, arg)
	}
	opts := client.ReadOptions{ForceFresh: fresh}

	if fresh {
		app.Registry.Reset()
	}

	var list []client.Skill
	var err error
	switch {
	case len(rest) >= 2 && rest[0] == "search":
		var resp *client.ListSkillsResponse
		resp, err = app.Client.SearchSkills(ctx, strings.Join(rest[1:], " "), opts)
		if resp != nil {
			list = resp.Skills
		}
	case len(rest) >= 2 && rest[0] == "section":
		list, err = app.Registry.BySection(ctx, rest[1])
	case len(rest) >= 2 && rest[0] == "category":
		list, err = app.Registry.ByCategory(ctx, rest[1])
	case len(rest) == 1 && rest[0] == "public":
		list, err = app.Registry.Public(ctx)
	case len(rest) == 1 && rest[0] == "bds":
		list, err = app.Registry.BDSOnly(ctx)
	default:
		list, err = app.Registry.All(ctx)
	}
	if err != nil {
		return reportError(app, err)
	}

	fmt.Fprintf(app.Stdout, "%d skill(s)\n\n", len(list))
	for _, s := range list {
		access := ""
		if s.Access == client.AccessBDSOnly {
			access = " [BDS]"
		}
		fmt.Fprintf(app.Stdout, "  %-28s %s%s\n", s.ID, s.Name, access)
		if s.Description != "" {
			fmt.Fprintf(app.Stdout, "  %-28s %s\n", "", s.Description)
		}
	}
	return nil
}

// HandleSkill shows one skill with its declared inputs.
func HandleSkill(ctx context.Context, app *Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: forge skill <id>")
	}

	skill, err := app.Client.GetSkill(ctx, args[0])
	if err != nil {
		return reportError(app, err)
	}

	fmt.Fprintf(app.Stdout, "%s (%s)\n", skill.Name, skill.ID)
	fmt.Fprintf(app.Stdout, "  section:  %s\n", skill.Section)
	fmt.Fprintf(app.Stdout, "  category: %s\n", skill.Category)
	fmt.Fprintf(app.Stdout, "  access:   %s\n", skill.Access)
	if len(skill.Tags) > 0 {
		fmt.Fprintf(app.Stdout, "  tags:     %s\n", strings.Join(skill.Tags, ", "))
	}
	fmt.Fprintf(app.Stdout, "  cost:     $%.4f - $%.4f\n", skill.EstimatedCost.Min, skill.EstimatedCost.Max)
	if skill.Description != "" {
		fmt.Fprintf(app.Stdout, "\n%s\n", skill.Description)
	}
	if len(skill.Inputs) > 0 {
		fmt.Fprintln(app.Stdout, "\nInputs:")
		for name, in := range skill.Inputs {
			required := ""
			if in.Required {
				required = " (required)"
			}
			fmt.Fprintf(app.Stdout, "  %-16s %s%s  %s\n", name, in.Type, required, in.Description)
		}
	}
	return nil
}

// =============================================================================
// INVOCATION
// =============================================================================

// HandleInvoke runs one skill. Inputs are given as key=value pairs; with
// --stream, tokens are printed as they arrive.
func HandleInvoke(ctx context.Context, app *Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: forge invoke <skill-id> [--stream] [key=value ...]")
	}
	skillID := args[0]

	streaming := false
	inputs := make(map[string]any)
	for _, arg := range args[1:] {
		if arg == "--stream" {
			streaming = true
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid input %q, expected key=value", arg)
		}
		inputs[key] = value
	}

	req := &client.InvokeRequest{Inputs: inputs}
	if streaming {
		return invokeStreaming(ctx, app, skillID, req)
	}

	resp, err := app.Client.InvokeSkill(ctx, skillID, req)
	if err != nil {
		return reportError(app, err)
	}

	if app.Store != nil {
		if err := app.Store.RecordInvocation(resp); err != nil {
			fmt.Fprintf(app.Stderr, "warning: failed to record invocation: %v\n", err)
		}
	}

	if resp.Status != "success" {
		msg := "invocation failed"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return errors.New(msg)
	}
	if resp.Output != nil {
		fmt.Fprintln(app.Stdout, *resp.Output)
	}
	fmt.Fprintf(app.Stdout, "\n[%s: %d tokens, $%.4f, %.2fs]\n",
		resp.Metadata.Model, resp.Metadata.TokensUsed, resp.Metadata.Cost, resp.Metadata.Latency)
	return nil
}

func invokeStreaming(ctx context.Context, app *Context, skillID string, req *client.InvokeRequest) error {
	events, err := app.Client.InvokeSkillStreaming(ctx, skillID, req)
	if err != nil {
		return reportError(app, err)
	}

	var meta *client.StreamingMetadata
	for ev := range events {
		switch ev.Type {
		case client.StreamEventToken:
			fmt.Fprint(app.Stdout, ev.Token.Token)
		case client.StreamEventMetadata:
			meta = ev.Metadata
		case client.StreamEventError:
			fmt.Fprintln(app.Stdout)
			return reportError(app, ev.Err)
		}
	}
	fmt.Fprintln(app.Stdout)

	if meta != nil {
		fmt.Fprintf(app.Stdout, "\n[%s: %d tokens, $%.4f, %.2fs]\n",
			meta.Model, meta.TokensUsed, meta.Cost, meta.Latency)
		if app.Store != nil {
			resp := &client.InvokeResponse{
				SessionID: meta.SessionID,
				Status:    "success",
				Metadata: client.InvokeMetadata{
					SessionID:  meta.SessionID,
					SkillID:    meta.SkillID,
					SkillName:  meta.SkillName,
					Model:      meta.Model,
					TokensUsed: meta.TokensUsed,
					Cost:       meta.Cost,
					Latency:    meta.Latency,
					Timestamp:  meta.Timestamp,
				},
			}
			if err := app.Store.RecordInvocation(resp); err != nil {
				fmt.Fprintf(app.Stderr, "warning: failed to record invocation: %v\n", err)
			}
		}
	}
	return nil
}

// HandleWatch follows a session's live event stream until it completes or
// the user interrupts.
func HandleWatch(ctx context.Context, app *Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: forge watch <session-id>")
	}
	sessionID := args[0]

	header, err := app.Client.AuthorizationHeader(ctx)
	if err != nil {
		return reportError(app, err)
	}

	done := make(chan error, 1)
	url := app.Client.BaseURL() + "/api/v1/bds/sessions/" + sessionID + "/stream"
	sub := app.Streams.Subscribe(ctx, url, stream.Options{
		Header:               header,
		ReconnectDelay:       app.Config.ReconnectDelay(),
		MaxReconnectAttempts: app.Config.Stream.MaxReconnectAttempts,
		OnChunk: func(text string) {
			fmt.Fprint(app.Stdout, text)
		},
		OnStageStart: func(stage string) {
			fmt.Fprintf(app.Stdout, "\n--- %s ---\n", stage)
		},
		OnStageEnd: func(stage string, result json.RawMessage) {
			fmt.Fprintf(app.Stdout, "\n--- %s done ---\n", stage)
		},
		OnComplete: func(result json.RawMessage) {
			fmt.Fprintln(app.Stdout, "\nSession complete")
			done <- nil
		},
		OnError: func(appErr *apierror.Error) {
			done <- appErr
		},
	})
	defer sub.Close()

	select {
	case err := <-done:
		if err != nil {
			return reportError(app, err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// =============================================================================
// LOCAL STATE
// =============================================================================

// HandleHistory lists recent invocations from local storage.
func HandleHistory(ctx context.Context, app *Context, args []string) error {
	if app.Store == nil {
		return errors.New("local storage is not available")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	records, err := app.Store.History(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(app.Stdout, "No invocations recorded")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(app.Stdout, "%s  %-24s %-8s %5d tok  $%.4f\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.SkillName, rec.Status, rec.TokensUsed, rec.Cost)
	}
	return nil
}

// HandleErrors shows or clears the persisted error log.
func HandleErrors(ctx context.Context, app *Context, args []string) error {
	if app.Store == nil {
		return errors.New("local storage is not available")
	}

	if len(args) > 0 && args[0] == "clear" {
		if err := app.Store.ClearErrors(); err != nil {
			return err
		}
		fmt.Fprintln(app.Stdout, "Error log cleared")
		return nil
	}

	records, err := app.Store.Errors()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(app.Stdout, "No errors logged")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(app.Stdout, "%s  [%s/%s] %s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Category, rec.Severity, rec.Message)
	}
	return nil
}

// HandleCache prints or clears the skills cache statistics.
func HandleCache(ctx context.Context, app *Context, args []string) error {
	if len(args) > 0 && args[0] == "clear" {
		app.Client.InvalidateSkillCaches()
		fmt.Fprintln(app.Stdout, "Caches cleared")
		return nil
	}

	stats := app.Client.SkillsCacheStats()
	total := stats.Hits + stats.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(stats.Hits) / float64(total) * 100
	}
	fmt.Fprintf(app.Stdout, "skills cache: %d/%d entries, %d hits, %d misses (%.1f%% hit rate)\n",
		stats.Size, stats.MaxSize, stats.Hits, stats.Misses, rate)
	return nil
}

// reportError records a classified error locally and returns it.
func reportError(app *Context, err error) error {
	appErr := apierror.Classify(err)
	if app.Store != nil {
		if logErr := app.Store.RecordError(appErr); logErr != nil {
			fmt.Fprintf(app.Stderr, "warning: failed to record error: %v\n", logErr)
		}
	}
	if appErr.UserMessage != "" {
		return errors.New(appErr.UserMessage)
	}
	return appErr
}
