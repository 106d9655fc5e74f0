package types

import "fmt"

// InputError reports fatal input problems: non-monotonic timestamps or
// missing required bar fields. The whole batch is rejected; nothing is
// partially applied.
type InputError struct {
	BarIndex int
	Reason   string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error at bar %d: %s", e.BarIndex, e.Reason)
}

// ConfigurationError reports a threshold outside its allowed range. Raised
// at construction; the engine never starts with an invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// StateConflict reports a pattern that matched no compatible campaign or
// ambiguously matched more than one active campaign in the same window.
// Conflicts are logged and the pattern discarded; processing continues.
type StateConflict struct {
	Kind   PatternKind
	Reason string
}

func (e *StateConflict) Error() string {
	return fmt.Sprintf("state conflict for %s pattern: %s", e.Kind, e.Reason)
}
