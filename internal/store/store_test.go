package store

import (
	"path/filepath"
	"testing"

	"github.com/andrelcm/pigeon/internal/wire"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestRoomUpsertAndList(t *testing.T) {
	db := testDB(t)

	rooms := []Room{
		{ID: "dm-1", IsGroup: false, Members: []string{"alice", "bob"}},
		{ID: "g-1", Name: "General", IsGroup: true, Members: []string{"alice", "bob", "carol"}, Admins: []string{"alice"}},
	}
	for i := range rooms {
		if err := db.UpsertRoom(&rooms[i]); err != nil {
			t.Fatal(err)
		}
	}

	// Re-upsert with a new name; must update, not duplicate.
	rooms[1].Name = "General Chat"
	if err := db.UpsertRoom(&rooms[1]); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("rooms = %d, want 2", len(got))
	}
	if got[0].ID != "g-1" || got[0].Name != "General Chat" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if len(got[0].Members) != 3 || got[0].Admins[0] != "alice" {
		t.Errorf("member lists not round-tripped: %+v", got[0])
	}

	single, err := db.GetRoom("dm-1")
	if err != nil {
		t.Fatal(err)
	}
	if single == nil || single.IsGroup {
		t.Fatalf("GetRoom = %+v", single)
	}
	missing, err := db.GetRoom("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatal("GetRoom returned a row for unknown id")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := Message{
		RoomID:    "g-1",
		MsgKey:    "c-1",
		Sender:    "alice",
		Content:   "hello",
		ClientID:  "c-1",
		Timestamp: 1000,
	}
	for i := 0; i < 3; i++ {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.CountMessages("g-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	for i := int64(1); i <= 5; i++ {
		m := Message{
			RoomID:    "g-1",
			MsgKey:    string(rune('a' + i)),
			Sender:    "alice",
			Content:   "msg",
			Timestamp: i * 1000,
		}
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("g-1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 5000 || page[1].Timestamp != 4000 {
		t.Fatalf("first page = %+v", page)
	}

	page, err = db.ListMessages("g-1", page[1].Timestamp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 3000 || page[1].Timestamp != 2000 {
		t.Fatalf("second page = %+v", page)
	}
}

func TestRoomHistoryOldestFirst(t *testing.T) {
	db := testDB(t)

	for i := int64(1); i <= 3; i++ {
		m := Message{RoomID: "g-1", MsgKey: string(rune('a' + i)), Sender: "alice", Content: "m", Timestamp: i * 1000}
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	history, err := db.RoomHistory("g-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || history[0].Timestamp != 1000 || history[2].Timestamp != 3000 {
		t.Fatalf("history = %+v", history)
	}
}

func TestSyncRoomAdvancesCheckpointAtomically(t *testing.T) {
	db := testDB(t)

	ts, err := db.Checkpoint("g-1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 0 {
		t.Fatalf("fresh checkpoint = %d, want 0", ts)
	}

	msgs := []Message{
		{RoomID: "g-1", MsgKey: "c-1", Sender: "alice", Content: "one", Timestamp: 1000},
		{RoomID: "g-1", MsgKey: "c-2", Sender: "bob", Content: "two", Timestamp: 2000},
	}
	if err := db.SyncRoom("g-1", msgs, 5000); err != nil {
		t.Fatal(err)
	}

	// Re-sync overlapping history: still two rows, checkpoint moves.
	if err := db.SyncRoom("g-1", msgs, 9000); err != nil {
		t.Fatal(err)
	}

	n, err := db.CountMessages("g-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	ts, err = db.Checkpoint("g-1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 9000 {
		t.Fatalf("checkpoint = %d, want 9000", ts)
	}
}

func TestMessageKeyPrefersClientID(t *testing.T) {
	withID := &wire.Message{RoomID: "g-1", SenderUsername: "alice", Content: "hi", ClientID: "c-1"}
	if got := MessageKey(withID); got != "c-1" {
		t.Errorf("key = %q, want c-1", got)
	}

	a := &wire.Message{RoomID: "g-1", SenderUsername: "alice", Content: "hi", Timestamp: "2026-08-29T10:00:00Z"}
	b := &wire.Message{RoomID: "g-1", SenderUsername: "alice", Content: "hi", Timestamp: "2026-08-29T10:00:00Z"}
	c := &wire.Message{RoomID: "g-1", SenderUsername: "alice", Content: "bye", Timestamp: "2026-08-29T10:00:00Z"}
	if MessageKey(a) != MessageKey(b) {
		t.Error("identical messages derived different keys")
	}
	if MessageKey(a) == MessageKey(c) {
		t.Error("different messages derived the same key")
	}
}

func TestWireRoundTrip(t *testing.T) {
	db := testDB(t)

	in := &wire.Message{
		RoomID:           "dm-1",
		SenderUsername:   "bob",
		ReceiverUsername: "alice",
		Content:          "psst",
		ClientID:         "c-7",
		Timestamp:        "2026-08-29T10:00:00Z",
	}
	cached := MessageFromWire(in)
	if err := db.UpsertMessage(&cached); err != nil {
		t.Fatal(err)
	}

	history, err := db.RoomHistory("dm-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d rows", len(history))
	}
	out := history[0].ToWire()
	if out.SenderUsername != "bob" || out.ReceiverUsername != "alice" || out.ClientID != "c-7" {
		t.Fatalf("round trip = %+v", out)
	}
	if out.Timestamp != "2026-08-29T10:00:00Z" {
		t.Fatalf("timestamp = %q", out.Timestamp)
	}
	if out.Kind() != wire.KindPrivate {
		t.Fatalf("kind = %s", out.Kind())
	}
}
