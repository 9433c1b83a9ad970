package domain

// Stage names the processing pipeline a conversation turn goes through.
type Stage string

const (
	// StageAdding merges freshly arrived inbound messages into the window
	// and resolves the conversation language.
	StageAdding Stage = "adding"
	// StageAnswering attempts a retrieval-augmented answer.
	StageAnswering Stage = "answering"
	// StageTest is the direct conversational fallback once retrieval is
	// exhausted or repeats.
	StageTest Stage = "test"
)

// ValidTransition checks if a stage transition is allowed.
// Allowed: adding->{answering,test}, answering->{answering,test}, test->test.
func (s Stage) ValidTransition(to Stage) bool {
	switch s {
	case StageAdding:
		return to == StageAnswering || to == StageTest
	case StageAnswering:
		return to == StageAnswering || to == StageTest
	case StageTest:
		return to == StageTest
	default:
		return false
	}
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s == StageAdding || s == StageAnswering || s == StageTest
}
