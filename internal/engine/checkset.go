package engine

// CheckSets holds the ordered check lists per event class.
type CheckSets struct {
	Shell []Check // full set: pattern checks first, VCS-backed checks last
	File  []Check // reduced set for read/write/edit
	Other []Check
}

// For returns the ordered checks that apply to kind.
func (s CheckSets) For(kind ToolKind) []Check {
	switch kind {
	case KindShell:
		return s.Shell
	case KindFileRead, KindFileWrite, KindFileEdit:
		return s.File
	case KindOther:
		return s.Other
	}
	panic("engine: unhandled tool kind " + kind.String())
}
