package usecase

import "parley/internal/domain"

// history is the per-call conversation transcript. Append-only; the
// generation window is capped so long calls stay inside the backend's
// accepted input size.
type history struct {
	turns  []domain.Turn
	window int
}

func newHistory(window int) *history {
	if window <= 0 {
		window = 20
	}
	return &history{window: window}
}

func (h *history) append(role domain.Role, text string) {
	h.turns = append(h.turns, domain.Turn{Role: role, Text: text})
}

// forGeneration returns the most recent turns, at most the window size.
func (h *history) forGeneration() []domain.Turn {
	if len(h.turns) <= h.window {
		return h.turns
	}
	return h.turns[len(h.turns)-h.window:]
}

func (h *history) all() []domain.Turn {
	return h.turns
}

func (h *history) len() int {
	return len(h.turns)
}
