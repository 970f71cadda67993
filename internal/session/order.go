package session

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// orderDelimiter joins content ids into the rawContentOrder session field.
const orderDelimiter = ";"

// EncodeOrder serializes a content id sequence for persistence.
func EncodeOrder(ids []string) string {
	return strings.Join(ids, orderDelimiter)
}

// DecodeOrder parses a persisted ordering. The decode is all-or-nothing:
// if any element is not a well-formed UUID the whole order is treated as
// empty so rendering falls back to the creation-time sort instead of
// crashing on a corrupt field.
func DecodeOrder(raw string) []string {
	if raw == "" {
		return []string{}
	}
	elements := strings.Split(raw, orderDelimiter)
	for _, element := range elements {
		if _, err := uuid.Parse(element); err != nil {
			return []string{}
		}
	}
	return elements
}

// MergeOrder reconciles a drag-reorder against the previously known order.
// The ids the user actually moved come first in their new arrangement;
// every untouched id keeps its prior relative position after them.
func MergeOrder(prev, moved []string) []string {
	merged := make([]string, 0, len(prev)+len(moved))
	seen := make(map[string]struct{}, len(moved))
	for _, id := range moved {
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range prev {
		if _, alreadyMoved := seen[id]; alreadyMoved {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged
}

// SortContent arranges content for display: ids absent from the order list
// come first, newest created first, followed by the ordered ids in their
// persisted positions.
func SortContent(items []Content, order []string) {
	position := make(map[string]int, len(order))
	for index, id := range order {
		position[id] = index
	}
	sort.SliceStable(items, func(i, j int) bool {
		left, leftOrdered := position[items[i].ContentID()]
		right, rightOrdered := position[items[j].ContentID()]
		switch {
		case leftOrdered && rightOrdered:
			return left < right
		case !leftOrdered && !rightOrdered:
			return parseMillis(items[i].CreatedAtMillis()) > parseMillis(items[j].CreatedAtMillis())
		case !leftOrdered:
			return true
		default:
			return false
		}
	})
}
