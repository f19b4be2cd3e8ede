// Package command matches finalized transcripts against a fixed keyword
// table. Matching is substring containment over a lower-cased transcript;
// table order is priority order, so callers register more specific commands
// before generic ones ("stop recording" before "stop").
package command

import (
	"strings"
)

// Command binds a canonical name and its spoken keywords to an action
type Command struct {
	Name     string
	Keywords []string
	Action   func()
}

// Recognizer holds a static, ordered command table resolved at construction
type Recognizer struct {
	commands []Command
}

// NewRecognizer creates a recognizer over the given table. The table is
// copied; it cannot change after construction.
func NewRecognizer(commands []Command) *Recognizer {
	table := make([]Command, len(commands))
	copy(table, commands)
	return &Recognizer{commands: table}
}

// Interpret matches a transcript against the command table. The first
// command with any keyword contained in the transcript wins. Returns the
// matched command and true, or nil and false when nothing matched; the
// caller decides whether "nothing matched" means answer content or a help
// prompt.
func (r *Recognizer) Interpret(transcript string) (*Command, bool) {
	normalized := strings.ToLower(strings.TrimSpace(transcript))
	if normalized == "" {
		return nil, false
	}

	for i := range r.commands {
		cmd := &r.commands[i]
		for _, keyword := range cmd.Keywords {
			if strings.Contains(normalized, keyword) {
				return cmd, true
			}
		}
	}
	return nil, false
}

// Names returns the canonical command names in priority order
func (r *Recognizer) Names() []string {
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Name
	}
	return names
}
