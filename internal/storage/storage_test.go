// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/vibeforge/forge-go/internal/apierror"
	"github.com/vibeforge/forge-go/internal/client"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "forge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResponse(sessionID string) *client.InvokeResponse {
	output := "done"
	return &client.InvokeResponse{
		SessionID: sessionID,
		Status:    "success",
		Output:    &output,
		Metadata: client.InvokeMetadata{
			SessionID:  sessionID,
			SkillID:    "sk_audit",
			SkillName:  "Audit",
			Model:      "small",
			TokensUsed: 120,
			Cost:       0.004,
			Latency:    1.5,
		},
	}
}

func TestRecordAndListInvocations(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.RecordInvocation(sampleResponse(fmt.Sprintf("sess-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("History = %d records", len(records))
	}
	// Newest first.
	if records[0].SessionID != "sess-2" {
		t.Errorf("first record = %s", records[0].SessionID)
	}
	if records[0].SkillName != "Audit" || records[0].TokensUsed != 120 {
		t.Errorf("record = %+v", records[0])
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestHistoryLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		s.RecordInvocation(sampleResponse(fmt.Sprintf("sess-%d", i)))
	}

	records, err := s.History(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("History(2) = %d records", len(records))
	}
}

func TestRecordInvocationRejectsNil(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordInvocation(nil); err == nil {
		t.Error("nil response should be rejected")
	}
}

func TestErrorLogRoundTrip(t *testing.T) {
	s := openTestStore(t)

	appErr := apierror.NewNetworkError("connection reset", "")
	appErr.Context = map[string]string{"endpoint": "/api/v1/bds/skills"}
	if err := s.RecordError(appErr); err != nil {
		t.Fatal(err)
	}

	records, err := s.Errors()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("Errors = %d records", len(records))
	}
	rec := records[0]
	if rec.Category != apierror.CategoryNetwork || rec.Severity != apierror.SeverityHigh {
		t.Errorf("record = %+v", rec)
	}
	if rec.Context["endpoint"] != "/api/v1/bds/skills" {
		t.Errorf("Context = %v", rec.Context)
	}
	if rec.ErrorID != appErr.ID {
		t.Errorf("ErrorID = %s, want %s", rec.ErrorID, appErr.ID)
	}
}

func TestErrorLogCapped(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < maxErrorLogEntries+10; i++ {
		if err := s.RecordError(apierror.NewNetworkError(fmt.Sprintf("failure %d", i), "")); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.Errors()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != maxErrorLogEntries {
		t.Fatalf("Errors = %d records, want %d", len(records), maxErrorLogEntries)
	}
	// The oldest entries were dropped, the newest kept.
	if records[0].Message != fmt.Sprintf("failure %d", maxErrorLogEntries+9) {
		t.Errorf("newest = %q", records[0].Message)
	}
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordError(nil); err != nil {
		t.Fatal(err)
	}
	records, _ := s.Errors()
	if len(records) != 0 {
		t.Errorf("Errors = %d", len(records))
	}
}

func TestClearErrors(t *testing.T) {
	s := openTestStore(t)
	s.RecordError(apierror.NewNetworkError("x", ""))
	if err := s.ClearErrors(); err != nil {
		t.Fatal(err)
	}
	records, _ := s.Errors()
	if len(records) != 0 {
		t.Errorf("Errors = %d after clear", len(records))
	}
}
