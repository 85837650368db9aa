package dashboard

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelRendersLatestSnapshot(t *testing.T) {
	updates := make(chan Snapshot, 1)
	m := NewModel(updates, nil)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 50, Height: 20})
	next, cmd := next.Update(snapshotMsg(Snapshot{Logs: []Event{{Text: "hello"}}}))
	if cmd == nil {
		t.Fatal("expected the model to keep waiting for snapshots")
	}
	view := next.View()
	if !strings.Contains(view, "hello") {
		t.Fatalf("expected snapshot in view, got %q", view)
	}
	if n := len(strings.Split(view, "\n")); n != 20 {
		t.Fatalf("unexpected view height: got %d want 20", n)
	}
}

func TestModelCtrlCCancelsRun(t *testing.T) {
	cancelled := false
	m := NewModel(make(chan Snapshot), func() { cancelled = true })

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled {
		t.Fatal("expected ctrl+c to cancel the run")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if next.View() != "" {
		t.Fatal("expected empty view after quit")
	}
}

func TestModelQuitsWhenSnapshotsClose(t *testing.T) {
	updates := make(chan Snapshot)
	close(updates)
	m := NewModel(updates, nil)

	msg := m.Init()()
	if _, ok := msg.(closedMsg); !ok {
		t.Fatalf("unexpected message %T", msg)
	}
	_, cmd := m.Update(msg)
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}
