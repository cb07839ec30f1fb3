package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestModelViewStates(t *testing.T) {
	m := model{title: "verify", cancel: func() {}}
	if !strings.Contains(m.View(), "verify") {
		t.Fatalf("expected title while running, got %q", m.View())
	}

	next, _ := m.Update(progressMsg("checked 10"))
	if !strings.Contains(next.View(), "checked 10") {
		t.Fatalf("expected progress in view, got %q", next.View())
	}

	done, cmd := next.Update(doneMsg{details: []string{"head=10"}, err: errors.New("gap")})
	if cmd == nil {
		t.Fatal("expected quit command after done")
	}
	view := done.View()
	if !strings.Contains(view, "head=10") || !strings.Contains(view, "gap") {
		t.Fatalf("expected details and error in final view, got %q", view)
	}
}

func TestTickStopsAfterDone(t *testing.T) {
	m := model{title: "x", done: true, cancel: func() {}}
	if _, cmd := m.Update(tickMsg{}); cmd != nil {
		t.Fatal("expected no further ticks once done")
	}
}
