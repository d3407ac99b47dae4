package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/atx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressUpdate MsgKind = iota
	MsgMigrationComplete
	MsgHandoverComplete
)

type runOutcome struct {
	session *tasks.Session
	err     error
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// migrationCompleteMsg is the constructor for [MsgMigrationComplete]
func migrationCompleteMsg(session *tasks.Session, err error) Msg {
	return Msg{kind: MsgMigrationComplete, data: runOutcome{session, err}}
}

// handoverCompleteMsg is the constructor for [MsgHandoverComplete]
func handoverCompleteMsg(session *tasks.Session, err error) Msg {
	return Msg{kind: MsgHandoverComplete, data: runOutcome{session, err}}
}
