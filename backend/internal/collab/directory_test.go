package collab

import (
	"testing"
)

func TestDirectory_JoinIsIdempotentUpsert(t *testing.T) {
	d := NewDirectory()
	d.Join("f1", UserInfo{UserID: 1, DisplayContact: "u1@example.com"})
	d.Join("f1", UserInfo{UserID: 1, DisplayContact: "u1@example.com"})

	if got := d.Count("f1"); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestDirectory_LeaveReportsEmpty(t *testing.T) {
	d := NewDirectory()
	d.Join("f1", UserInfo{UserID: 1})
	d.Join("f1", UserInfo{UserID: 2})

	removed, empty := d.Leave("f1", 1)
	if !removed || empty {
		t.Fatalf("Leave(1) = (%t, %t), want (true, false)", removed, empty)
	}
	removed, empty = d.Leave("f1", 2)
	if !removed || !empty {
		t.Fatalf("Leave(2) = (%t, %t), want (true, true)", removed, empty)
	}
	if got := d.Count("f1"); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}

func TestDirectory_TouchMissingUserFailsSilently(t *testing.T) {
	d := NewDirectory()
	d.Join("f1", UserInfo{UserID: 1})

	if d.Touch("f1", 99) {
		t.Fatal("Touch(missing user) = true, want false")
	}
	if d.Touch("missing-form", 1) {
		t.Fatal("Touch(missing form) = true, want false")
	}
	if !d.Touch("f1", 1) {
		t.Fatal("Touch(present user) = false, want true")
	}
}

func TestDirectory_SetCursor(t *testing.T) {
	d := NewDirectory()
	d.Join("f1", UserInfo{UserID: 1})

	if !d.SetCursor("f1", 1, CursorPosition{FieldID: "name", Position: 3}) {
		t.Fatal("SetCursor() = false, want true")
	}
	members := d.Members("f1")
	if len(members) != 1 || members[0].Cursor == nil {
		t.Fatalf("Members() = %+v, want one member with cursor", members)
	}
	if members[0].Cursor.FieldID != "name" || members[0].Cursor.Position != 3 {
		t.Fatalf("Cursor = %+v, want {name 3}", members[0].Cursor)
	}
	if d.SetCursor("f1", 99, CursorPosition{FieldID: "name"}) {
		t.Fatal("SetCursor(missing user) = true, want false")
	}
}

func TestDirectory_FormsOf(t *testing.T) {
	d := NewDirectory()
	d.Join("f2", UserInfo{UserID: 1})
	d.Join("f1", UserInfo{UserID: 1})
	d.Join("f3", UserInfo{UserID: 2})

	got := d.FormsOf(1)
	if len(got) != 2 || got[0] != "f1" || got[1] != "f2" {
		t.Fatalf("FormsOf(1) = %v, want [f1 f2]", got)
	}
	if got := d.FormsOf(3); got != nil {
		t.Fatalf("FormsOf(3) = %v, want nil", got)
	}
}
