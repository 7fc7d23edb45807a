package harness

import (
	"fmt"
	"strings"

	"github.com/weft-labs/weft/internal/ir"
)

// checkAssertions evaluates every assertion against the final journal
// and returns one message per failure.
func checkAssertions(events []ir.EventRecord, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var msg string
		switch a.Type {
		case AssertJournalContains:
			msg = checkContains(events, &a)
		case AssertJournalOrder:
			msg = checkOrder(events, &a)
		case AssertJournalCount:
			msg = checkCount(events, &a)
		default:
			msg = fmt.Sprintf("unknown assertion type %q", a.Type)
		}
		if msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return failures
}

// checkContains looks for an event with the asserted op whose input
// carries all the asserted fields.
func checkContains(events []ir.EventRecord, a *Assertion) string {
	var expected ir.Object
	if a.Input != nil {
		v, err := ir.FromGo(a.Input)
		if err != nil {
			return fmt.Sprintf("bad input clause: %v", err)
		}
		expected = v.(ir.Object)
	}

	for i := range events {
		ev := &events[i]
		if string(ev.Op) != a.Op {
			continue
		}
		if expected == nil || subsetMatch(expected, ev.Input) == "" {
			return ""
		}
	}
	if expected == nil {
		return fmt.Sprintf("no %s event in journal", a.Op)
	}
	return fmt.Sprintf("no %s event matching input %v", a.Op, a.Input)
}

// checkOrder verifies the asserted ops appear as a subsequence of the
// journal. Other events may interleave freely.
func checkOrder(events []ir.EventRecord, a *Assertion) string {
	next := 0
	for i := range events {
		if next < len(a.Ops) && string(events[i].Op) == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return fmt.Sprintf("journal order broken: %s not reached (want %s)",
			a.Ops[next], strings.Join(a.Ops, " -> "))
	}
	return ""
}

// checkCount verifies the asserted op appears exactly Count times.
func checkCount(events []ir.EventRecord, a *Assertion) string {
	count := 0
	for i := range events {
		if string(events[i].Op) == a.Op {
			count++
		}
	}
	if count != a.Count {
		return fmt.Sprintf("%s appears %d times, want %d", a.Op, count, a.Count)
	}
	return ""
}

// subsetMatch checks every field of expected against actual. Returns
// an empty string on match, a description of the first mismatch
// otherwise. Fields of actual not listed in expected are ignored.
func subsetMatch(expected, actual ir.Object) string {
	for _, key := range expected.SortedKeys() {
		got, ok := actual[key]
		if !ok {
			return fmt.Sprintf("field %q is missing", key)
		}
		if !ir.Equal(expected[key], got) {
			wantJSON, _ := ir.MarshalValue(expected[key])
			gotJSON, _ := ir.MarshalValue(got)
			return fmt.Sprintf("field %q: want %s, got %s", key, wantJSON, gotJSON)
		}
	}
	return ""
}
