package app

import (
	"reflect"
	"testing"
)

func TestGroupSKUs_FirstOccurrenceWins(t *testing.T) {
	unique, dups := GroupSKUs([]string{"B-2", "A-1", " B-2 ", "", "C-3", "A-1"})

	if want := []string{"B-2", "A-1", "C-3"}; !reflect.DeepEqual(unique, want) {
		t.Fatalf("期望 %v，实际 %v", want, unique)
	}
	if want := []string{"B-2", "A-1"}; !reflect.DeepEqual(dups, want) {
		t.Fatalf("期望 dups=%v，实际 %v", want, dups)
	}
}

func TestGroupSKUs_CaseSensitive(t *testing.T) {
	unique, dups := GroupSKUs([]string{"a-1", "A-1"})
	if len(unique) != 2 || len(dups) != 0 {
		t.Fatalf("SKU 比较应区分大小写：unique=%v dups=%v", unique, dups)
	}
}
