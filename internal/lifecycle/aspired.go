package lifecycle

// AspiredState records whether a version is still wanted. It is a one-way
// latch: once unaspired it never becomes aspired again.
//
// AspiredState does no locking of its own; the Manager guards it.
type AspiredState struct {
	aspired bool
}

// NewAspiredState returns a state that starts out aspired.
func NewAspiredState() AspiredState { return AspiredState{aspired: true} }

// Unaspire marks the version for removal. Idempotent.
func (s *AspiredState) Unaspire() { s.aspired = false }

// WasAspired reports whether the version is still aspired.
func (s AspiredState) WasAspired() bool { return s.aspired }
