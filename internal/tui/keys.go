package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the dashboard key bindings.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	NextBranch key.Binding
	PrevBranch key.Binding
	Toggle     key.Binding
	SelectAll  key.Binding
	Run        key.Binding
	Refresh    key.Binding
	Quit       key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	NextBranch: key.NewBinding(
		key.WithKeys("tab", "l", "right"),
		key.WithHelp("tab", "next branch"),
	),
	PrevBranch: key.NewBinding(
		key.WithKeys("shift+tab", "h", "left"),
		key.WithHelp("S-tab", "prev branch"),
	),
	Toggle: key.NewBinding(
		key.WithKeys(" ", "x"),
		key.WithHelp("space", "select"),
	),
	SelectAll: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "select runnable"),
	),
	Run: key.NewBinding(
		key.WithKeys("enter", "t"),
		key.WithHelp("enter", "run selected"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextBranch, k.Toggle, k.SelectAll, k.Run, k.Refresh, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NextBranch, k.PrevBranch},
		{k.Toggle, k.SelectAll, k.Run, k.Refresh, k.Quit},
	}
}
