package engine

import "strings"

// AnswerSet holds the answer text for every question, dense over [0, N).
// It is owned by the engine's event loop and is not safe for concurrent use.
type AnswerSet struct {
	answers []string
}

func NewAnswerSet(n int) *AnswerSet {
	return &AnswerSet{answers: make([]string, n)}
}

// Restore overwrites the set from previously saved answers. Entries beyond
// the question count are ignored.
func (a *AnswerSet) Restore(saved []string) {
	for i := range a.answers {
		if i < len(saved) {
			a.answers[i] = saved[i]
		}
	}
}

func (a *AnswerSet) Get(index int) string {
	if index < 0 || index >= len(a.answers) {
		return ""
	}
	return a.answers[index]
}

func (a *AnswerSet) Set(index int, text string) {
	if index < 0 || index >= len(a.answers) {
		return
	}
	a.answers[index] = text
}

// Append joins a finalized transcript segment onto the existing answer with
// a single space and returns the new value.
func (a *AnswerSet) Append(index int, segment string) string {
	if index < 0 || index >= len(a.answers) {
		return ""
	}
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return a.answers[index]
	}
	if a.answers[index] == "" {
		a.answers[index] = segment
	} else {
		a.answers[index] = a.answers[index] + " " + segment
	}
	return a.answers[index]
}

func (a *AnswerSet) Len() int {
	return len(a.answers)
}

// Snapshot returns a copy of all answers.
func (a *AnswerSet) Snapshot() []string {
	out := make([]string, len(a.answers))
	copy(out, a.answers)
	return out
}
