package usecase

import (
	"strconv"
	"testing"

	"parley/internal/domain"
)

func TestHistoryWindowKeepsMostRecent(t *testing.T) {
	t.Parallel()

	h := newHistory(4)
	for i := 0; i < 10; i++ {
		role := domain.RoleCaller
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		h.append(role, "t"+strconv.Itoa(i))
	}

	if h.len() != 10 {
		t.Fatalf("append must keep everything, got %d", h.len())
	}
	window := h.forGeneration()
	if len(window) != 4 {
		t.Fatalf("expected window of 4, got %d", len(window))
	}
	if window[0].Text != "t6" || window[3].Text != "t9" {
		t.Fatalf("expected most recent entries, got %+v", window)
	}
	if all := h.all(); len(all) != 10 {
		t.Fatalf("all() must return the full transcript, got %d", len(all))
	}
}
