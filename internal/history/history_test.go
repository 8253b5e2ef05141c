package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleGroup(id, agentID string, status store.GroupStatus) *store.Group {
	return &store.Group{
		ID:            id,
		QueueID:       "q-1",
		AgentID:       agentID,
		Status:        status,
		WinnerCallRef: "CA0002",
		CreatedAt:     time.Now().Add(-time.Minute),
		Attempts: []store.Attempt{
			{CallRef: "CA0001", CustomerNumber: "+14045551001", FromNumber: "+14045550100", Position: 0, Status: store.AttemptTerminated},
			{CallRef: "CA0002", CustomerNumber: "+14045551002", FromNumber: "+14045550101", Position: 1, Status: store.AttemptAnswered, AnsweredBy: "human"},
		},
	}
}

func TestRecordAndListGroups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordGroup(ctx, sampleGroup("g-1", "agent-7", store.GroupCompleted)); err != nil {
		t.Fatalf("RecordGroup: %v", err)
	}
	if err := s.RecordGroup(ctx, sampleGroup("g-2", "agent-8", store.GroupFailed)); err != nil {
		t.Fatalf("RecordGroup: %v", err)
	}

	groups, err := s.ListGroups(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	groups, err = s.ListGroups(ctx, "agent-7", 0)
	if err != nil {
		t.Fatalf("ListGroups filtered: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g-1" {
		t.Fatalf("filtered groups = %+v, want just g-1", groups)
	}
	if len(groups[0].Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(groups[0].Attempts))
	}
	if groups[0].Attempts[1].AnsweredBy != "human" {
		t.Fatalf("attempt answered_by = %q, want human", groups[0].Attempts[1].AnsweredBy)
	}
}

func TestRecordGroupIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := sampleGroup("g-1", "agent-7", store.GroupCompleted)
	if err := s.RecordGroup(ctx, g); err != nil {
		t.Fatalf("RecordGroup: %v", err)
	}
	if err := s.RecordGroup(ctx, g); err != nil {
		t.Fatalf("RecordGroup redelivery: %v", err)
	}

	groups, err := s.ListGroups(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups after re-record, want 1", len(groups))
	}
	if len(groups[0].Attempts) != 2 {
		t.Fatalf("got %d attempts after re-record, want 2", len(groups[0].Attempts))
	}
}

func TestRecordAndListTransfers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	connected := time.Now().Add(-30 * time.Second)
	completed := time.Now()
	tr := &store.Transfer{
		ID:              "t-1",
		ConferenceName:  "queue-42-call-7",
		Type:            store.TransferWarm,
		Status:          store.TransferCompleted,
		StatusDetail:    "agent removed",
		RecipientPhone:  "+14045551234",
		AgentCallRef:    "CAAGENT",
		CustomerCallRef: "CACUST",
		TransferCallRef: "CT0001",
		InitiatedAt:     time.Now().Add(-time.Minute),
		ConnectedAt:     &connected,
		CompletedAt:     &completed,
	}
	if err := s.RecordTransfer(ctx, tr); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}

	transfers, err := s.ListTransfers(ctx, "queue-42-call-7", 0)
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(transfers))
	}
	got := transfers[0]
	if got.Status != string(store.TransferCompleted) || got.StatusDetail != "agent removed" {
		t.Fatalf("transfer = %+v", got)
	}
	if got.ConnectedAt == nil || got.CompletedAt == nil {
		t.Fatal("timestamps not round-tripped")
	}

	transfers, err = s.ListTransfers(ctx, "other-conference", 0)
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if len(transfers) != 0 {
		t.Fatalf("got %d transfers for other conference, want 0", len(transfers))
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tc := range tests {
		if got := clampLimit(tc.in); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
