package inference

// StopMatchState is the progress of a stop-string match across fragments.
type StopMatchState struct {
	Matched int
	Held    []byte
}

func (s *StopMatchState) Reset() {
	s.Matched = 0
	s.Held = s.Held[:0]
}

// StopMatcher filters decoded text so that a stop string split across
// tokens is never emitted. Bytes that could be the start of the stop string
// are held until the match either completes or diverges.
type StopMatcher struct {
	stop  []byte
	state StopMatchState
}

func NewStopMatcher(stop string) *StopMatcher {
	return &StopMatcher{stop: []byte(stop)}
}

// Feed consumes one decoded fragment. It returns the text that is safe to
// emit and whether the stop string has been completed; once stopped the
// rest of the fragment is discarded.
func (m *StopMatcher) Feed(fragment string) (string, bool) {
	if len(m.stop) == 0 {
		return fragment, false
	}
	st := &m.state
	out := make([]byte, 0, len(fragment)+len(st.Held))
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		if c != m.stop[st.Matched] && st.Matched > 0 {
			out = append(out, st.Held...)
			st.Reset()
		}
		if c == m.stop[st.Matched] {
			st.Matched++
			st.Held = append(st.Held, c)
			if st.Matched == len(m.stop) {
				st.Reset()
				return string(out), true
			}
			continue
		}
		out = append(out, c)
	}
	return string(out), false
}

// Pending returns bytes held by an unfinished match.
func (m *StopMatcher) Pending() []byte {
	return m.state.Held
}

func (m *StopMatcher) Reset() {
	m.state.Reset()
}

// State exposes the current match progress.
func (m *StopMatcher) State() StopMatchState {
	return StopMatchState{Matched: m.state.Matched, Held: append([]byte(nil), m.state.Held...)}
}
