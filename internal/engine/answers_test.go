package engine

import "testing"

func TestAnswerSetAppendJoinsWithSpace(t *testing.T) {
	answers := NewAnswerSet(2)

	if got := answers.Append(0, "first"); got != "first" {
		t.Errorf("Expected %q, got %q", "first", got)
	}
	if got := answers.Append(0, "  second  "); got != "first second" {
		t.Errorf("Expected %q, got %q", "first second", got)
	}
	if got := answers.Append(0, "   "); got != "first second" {
		t.Errorf("Blank segment must be ignored, got %q", got)
	}
	if answers.Get(1) != "" {
		t.Error("Other entries must stay untouched")
	}
}

func TestAnswerSetIgnoresOutOfRange(t *testing.T) {
	answers := NewAnswerSet(1)
	answers.Set(5, "x")
	answers.Set(-1, "x")
	if got := answers.Append(5, "x"); got != "" {
		t.Errorf("Out-of-range append must return empty, got %q", got)
	}
	if answers.Get(0) != "" {
		t.Error("In-range entry must stay empty")
	}
}

func TestAnswerSetRestore(t *testing.T) {
	answers := NewAnswerSet(3)
	answers.Restore([]string{"a", "b", "c", "overflow"})
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if answers.Get(i) != w {
			t.Errorf("Entry %d: expected %q, got %q", i, w, answers.Get(i))
		}
	}
	if answers.Len() != 3 {
		t.Errorf("Expected length 3, got %d", answers.Len())
	}
}
