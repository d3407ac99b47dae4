// Package ui implements an interactive terminal view of an account migration using bubbletea's Elm architecture.
//
// The TUI walks through a fixed sequence of views:
//  1. [ConfirmView] : Review source, destination and phases before starting
//  2. [RunView] : Spinner, current phase and a blob progress bar while the workflow runs
//  3. [ResultView] : Final state, missing blobs and the next step
//  4. [TokenView] : Enter the emailed PLC token to sign and submit the handover
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow from the MigrationEngine through a [tasks.ChannelObserver], so a slow terminal never blocks a transfer.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
