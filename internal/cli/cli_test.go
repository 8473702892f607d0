// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func testAppContext() (*Context, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	app := &Context{
		Stdout: &stdout,
		Stderr: &stderr,
		Stdin:  strings.NewReader(""),
	}
	return app, &stdout, &stderr
}

func TestRunUnknownCommand(t *testing.T) {
	app, _, stderr := testAppContext()
	err := Run(context.Background(), app, []string{"frobnicate"})
	if err == nil {
		t.Fatal("unknown command should error")
	}
	if !strings.Contains(stderr.String(), "frobnicate") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunNoArgsShowsHelp(t *testing.T) {
	app, stdout, _ := testAppContext()
	if err := Run(context.Background(), app, nil); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"login", "skills", "invoke", "watch", "history"} {
		if !strings.Contains(stdout.String(), name) {
			t.Errorf("help output missing %q", name)
		}
	}
}

func TestHandleVersion(t *testing.T) {
	app, stdout, _ := testAppContext()
	if err := Run(context.Background(), app, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), Version) {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestHandleInvokeArgValidation(t *testing.T) {
	app, _, _ := testAppContext()

	if err := HandleInvoke(context.Background(), app, nil); err == nil {
		t.Error("missing skill ID should error")
	}

	err := HandleInvoke(context.Background(), app, []string{"sk_audit", "notapair"})
	if err == nil || !strings.Contains(err.Error(), "key=value") {
		t.Errorf("err = %v, want key=value hint", err)
	}
}

func TestHandleLoginArgValidation(t *testing.T) {
	app, _, _ := testAppContext()
	if err := HandleLogin(context.Background(), app, nil); err == nil {
		t.Error("missing email should error")
	}
}

func TestHandleHistoryArgValidation(t *testing.T) {
	app, _, _ := testAppContext()
	if err := HandleHistory(context.Background(), app, []string{"0"}); err == nil {
		t.Error("storage unavailable should error before parsing")
	}
}
