package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func appendRecords(t *testing.T, store *MemoryStore, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.Append(context.Background(), Record{
			AgentID:   agentID,
			Cycle:     uint64(i + 1),
			Action:    "IDLE",
			Source:    "rule",
			Reason:    fmt.Sprintf("cycle %d", i+1),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestMemoryStoreListRecentNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	appendRecords(t, store, "agent-1", 5)

	records, err := store.ListRecent(context.Background(), "agent-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Cycle != 5 || records[2].Cycle != 3 {
		t.Fatalf("records not newest first: %+v", records)
	}
}

func TestMemoryStoreFiltersByAgent(t *testing.T) {
	store := NewMemoryStore()
	appendRecords(t, store, "agent-1", 3)
	appendRecords(t, store, "agent-2", 2)

	records, err := store.ListRecent(context.Background(), "agent-2", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for agent-2, got %d", len(records))
	}
	for _, record := range records {
		if record.AgentID != "agent-2" {
			t.Fatalf("wrong agent in filtered list: %+v", record)
		}
	}

	all, err := store.ListRecent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records unfiltered, got %d", len(all))
	}
}

func TestMemoryStoreAssignsIDs(t *testing.T) {
	store := NewMemoryStore()
	appendRecords(t, store, "agent-1", 1)

	records, err := store.ListRecent(context.Background(), "agent-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].ID == "" {
		t.Fatalf("record must get a generated id")
	}
}

func TestMemoryStoreCapacityEvictsOldest(t *testing.T) {
	store := NewMemoryStore(WithCapacity(3))
	appendRecords(t, store, "agent-1", 5)

	records, err := store.ListRecent(context.Background(), "agent-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected capacity 3, got %d records", len(records))
	}
	if records[len(records)-1].Cycle != 3 {
		t.Fatalf("oldest surviving record should be cycle 3: %+v", records)
	}
}
