package session

import (
	"reflect"
	"testing"
)

const (
	idAlpha   = "3f1f1dd2-0000-4000-8000-000000000001"
	idBravo   = "3f1f1dd2-0000-4000-8000-000000000002"
	idCharlie = "3f1f1dd2-0000-4000-8000-000000000003"
	idDelta   = "3f1f1dd2-0000-4000-8000-000000000004"
)

func TestOrderRoundTrip(t *testing.T) {
	cases := [][]string{
		{idAlpha},
		{idAlpha, idBravo, idCharlie},
		{idCharlie, idAlpha},
	}
	for _, ids := range cases {
		decoded := DecodeOrder(EncodeOrder(ids))
		if !reflect.DeepEqual(decoded, ids) {
			t.Fatalf("round trip mismatch: got %v, want %v", decoded, ids)
		}
	}
}

func TestDecodeOrderEmptyInput(t *testing.T) {
	decoded := DecodeOrder("")
	if len(decoded) != 0 {
		t.Fatalf("expected empty order, got %v", decoded)
	}
}

func TestDecodeOrderRejectsMalformedElements(t *testing.T) {
	cases := []string{
		"not-a-uuid;also-bad",
		idAlpha + ";partially-bad",
		"trailing;" + idBravo + ";",
	}
	for _, raw := range cases {
		decoded := DecodeOrder(raw)
		if len(decoded) != 0 {
			t.Fatalf("expected all-or-nothing decode of %q to be empty, got %v", raw, decoded)
		}
	}
}

func TestMergeOrderMovedIDsLeadUntouchedFollow(t *testing.T) {
	prev := []string{idAlpha, idBravo, idCharlie}
	moved := []string{idCharlie, idAlpha}

	merged := MergeOrder(prev, moved)

	want := []string{idCharlie, idAlpha, idBravo}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("merge mismatch: got %v, want %v", merged, want)
	}
}

func TestMergeOrderDropsDuplicates(t *testing.T) {
	prev := []string{idAlpha, idBravo}
	moved := []string{idBravo, idBravo, idAlpha}

	merged := MergeOrder(prev, moved)

	want := []string{idBravo, idAlpha}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("merge mismatch: got %v, want %v", merged, want)
	}
}

func TestSortContentOrderedPositionsRespected(t *testing.T) {
	items := []Content{
		Note{ID: idAlpha, CreatedAt: "100"},
		Note{ID: idBravo, CreatedAt: "200"},
		Note{ID: idCharlie, CreatedAt: "300"},
	}

	SortContent(items, []string{idCharlie, idAlpha, idBravo})

	got := contentIDs(items)
	want := []string{idCharlie, idAlpha, idBravo}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sorted ids mismatch: got %v, want %v", got, want)
	}
}

func TestSortContentUnorderedFallBackNewestFirst(t *testing.T) {
	items := []Content{
		Note{ID: idAlpha, CreatedAt: "100"},
		Note{ID: idBravo, CreatedAt: "300"},
		Note{ID: idCharlie, CreatedAt: "200"},
	}

	SortContent(items, nil)

	got := contentIDs(items)
	want := []string{idBravo, idCharlie, idAlpha}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sorted ids mismatch: got %v, want %v", got, want)
	}
}

func TestSortContentUnorderedItemsPrecedeOrderedOnes(t *testing.T) {
	items := []Content{
		Note{ID: idAlpha, CreatedAt: "100"},
		Note{ID: idBravo, CreatedAt: "200"},
		Note{ID: idCharlie, CreatedAt: "300"},
		Note{ID: idDelta, CreatedAt: "400"},
	}

	SortContent(items, []string{idBravo, idAlpha})

	got := contentIDs(items)
	want := []string{idDelta, idCharlie, idBravo, idAlpha}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sorted ids mismatch: got %v, want %v", got, want)
	}
}

func contentIDs(items []Content) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ContentID())
	}
	return ids
}
