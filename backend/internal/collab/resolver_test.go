package collab

import (
	"reflect"
	"testing"
	"time"
)

func mkChange(user uint64, fieldID string, value interface{}) FieldChange {
	return FieldChange{
		ChangeID:   "c-test",
		FieldID:    fieldID,
		FieldKey:   fieldID,
		ChangeType: ChangeValue,
		NewValue:   value,
		UserID:     user,
		AppliedAt:  time.Now(),
	}
}

func TestResolve_LastWriterWins(t *testing.T) {
	existing := mkChange(1, "f1", 1)
	incoming := mkChange(2, "f1", 2)

	got := Resolve(PolicyLastWriterWins, existing, incoming)
	if !reflect.DeepEqual(got, incoming) {
		t.Fatalf("Resolve() = %+v, want incoming verbatim %+v", got, incoming)
	}
}

func TestResolve_MergeObjects(t *testing.T) {
	existing := mkChange(1, "f1", map[string]interface{}{"theme": "dark"})
	incoming := mkChange(2, "f1", map[string]interface{}{"lang": "en"})

	got := Resolve(PolicyMerge, existing, incoming)
	want := map[string]interface{}{"theme": "dark", "lang": "en"}
	if !reflect.DeepEqual(got.NewValue, want) {
		t.Fatalf("Resolve() NewValue = %v, want %v", got.NewValue, want)
	}
	if got.UserID != incoming.UserID {
		t.Fatalf("Resolve() UserID = %d, want %d", got.UserID, incoming.UserID)
	}
}

func TestResolve_MergeIncomingOverridesOnCollision(t *testing.T) {
	existing := mkChange(1, "f1", map[string]interface{}{"theme": "dark", "lang": "zh"})
	incoming := mkChange(2, "f1", map[string]interface{}{"lang": "en"})

	got := Resolve(PolicyMerge, existing, incoming)
	want := map[string]interface{}{"theme": "dark", "lang": "en"}
	if !reflect.DeepEqual(got.NewValue, want) {
		t.Fatalf("Resolve() NewValue = %v, want %v", got.NewValue, want)
	}
}

func TestResolve_MergeScalarFallsBackToLWW(t *testing.T) {
	existing := mkChange(1, "f1", "red")
	incoming := mkChange(2, "f1", "blue")

	got := Resolve(PolicyMerge, existing, incoming)
	if !reflect.DeepEqual(got, incoming) {
		t.Fatalf("Resolve() = %+v, want incoming verbatim %+v", got, incoming)
	}
}

func TestResolve_MergeNonValueFallsBackToLWW(t *testing.T) {
	existing := mkChange(1, "f1", map[string]interface{}{"theme": "dark"})
	existing.ChangeType = ChangeConfig
	incoming := mkChange(2, "f1", map[string]interface{}{"lang": "en"})

	got := Resolve(PolicyMerge, existing, incoming)
	if !reflect.DeepEqual(got.NewValue, incoming.NewValue) {
		t.Fatalf("Resolve() NewValue = %v, want %v", got.NewValue, incoming.NewValue)
	}
}

func TestResolve_Manual(t *testing.T) {
	existing := mkChange(1, "f1", "red")
	incoming := mkChange(2, "f1", "blue")

	got := Resolve(PolicyManual, existing, incoming)
	nv, ok := got.NewValue.(map[string]interface{})
	if !ok {
		t.Fatalf("Resolve() NewValue type = %T, want map", got.NewValue)
	}
	if nv["conflicted"] != true {
		t.Fatalf("conflicted = %v, want true", nv["conflicted"])
	}
	options, ok := nv["options"].([]interface{})
	if !ok || len(options) != 2 {
		t.Fatalf("options = %v, want 2 entries", nv["options"])
	}
	if options[0] != "red" || options[1] != "blue" {
		t.Fatalf("options = %v, want [red blue]", options)
	}
	if got.ChangeType != ChangeValue {
		t.Fatalf("ChangeType = %s, want %s", got.ChangeType, ChangeValue)
	}
	if nv["timestamp"] != incoming.AppliedAt {
		t.Fatalf("timestamp = %v, want %v", nv["timestamp"], incoming.AppliedAt)
	}
}
