package dashboard

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

type snapshotMsg Snapshot

type closedMsg struct{}

// Model is the bubbletea view over aggregator snapshots.
type Model struct {
	updates  <-chan Snapshot
	cancel   context.CancelFunc
	snapshot Snapshot
	width    int
	height   int
	quitting bool
}

// NewModel builds a view fed by updates. cancel is called when the
// operator presses ctrl+c.
func NewModel(updates <-chan Snapshot, cancel context.CancelFunc) Model {
	return Model{updates: updates, cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		return m, waitForSnapshot(m.updates)
	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return Layout(m.snapshot, m.width, m.height)
}

func waitForSnapshot(updates <-chan Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Run shows the dashboard in the alternate screen until the aggregator
// stops or the operator interrupts. The terminal is restored on return.
func Run(agg *Aggregator, cancel context.CancelFunc, in io.Reader, out io.Writer) error {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	program := tea.NewProgram(NewModel(agg.Snapshots(), cancel), opts...)
	_, err := program.Run()
	return err
}
