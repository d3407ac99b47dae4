package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
	"github.com/desertthunder/atx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ConfirmView ViewState = iota
	RunView
	ResultView
	TokenView
)

// Engine is the part of [tasks.MigrationEngine] the TUI drives.
type Engine interface {
	Migrate(ctx context.Context, opts tasks.MigrateOptions) (*tasks.Session, error)
	SignAndSubmitHandover(ctx context.Context, s *tasks.Session, token string) error
}

// run tracks one background workflow call. outcome is written before updates is closed.
type run struct {
	updates chan tasks.ProgressUpdate
	outcome runOutcome
	done    func(*tasks.Session, error) Msg
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	view        ViewState
	engine      Engine
	opts        tasks.MigrateOptions
	width       int
	height      int
	active      *run
	progress    tasks.ProgressUpdate
	log         []string
	session     *tasks.Session
	err         error
	spinner     spinner.Model
	bar         progress.Model
	tokenInput  textinput.Model
	missingList list.Model
	help        help.Model
	keys        keyMap
}

const logLines = 6

// NewModel creates a new TUI model that will run opts through engine once confirmed.
func NewModel(ctx context.Context, engine Engine, opts tasks.MigrateOptions) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.title.UnsetMarginBottom()

	ti := textinput.New()
	ti.Placeholder = "ABCDE-12345"
	ti.CharLimit = 64

	return &Model{
		ctx:        ctx,
		view:       ConfirmView,
		engine:     engine,
		opts:       opts,
		spinner:    sp,
		bar:        progress.New(progress.WithDefaultGradient()),
		tokenInput: ti,
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-8, 10)
		if m.session != nil {
			m.missingList.SetSize(msg.Width-4, max(msg.Height-14, 4))
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		case TokenView:
			return m.handleTokenKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != RunView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.progress = update
		if update.Message != "" {
			m.log = append(m.log, update.Message)
			if len(m.log) > logLines {
				m.log = m.log[len(m.log)-logLines:]
			}
		}
		return m, m.waitFor(m.active)

	case MsgMigrationComplete, MsgHandoverComplete:
		outcome := msg.data.(runOutcome)
		if outcome.session != nil {
			m.session = outcome.session
		}
		m.err = outcome.err
		m.active = nil
		m.view = ResultView
		if m.session != nil {
			m.missingList = newMissingList(m.session.MissingBlobs(), max(m.width-4, 20), max(m.height-14, 4))
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	case TokenView:
		return m.renderToken()
	default:
		return ""
	}
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit), key.Matches(msg, m.keys.no):
		return m, tea.Quit
	case key.Matches(msg, m.keys.yes):
		return m, m.startMigration()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.token) && m.awaitingToken():
		m.view = TokenView
		m.tokenInput.Reset()
		return m, m.tokenInput.Focus()
	}

	if m.session == nil {
		return m, nil
	}
	var cmd tea.Cmd
	m.missingList, cmd = m.missingList.Update(msg)
	return m, cmd
}

func (m *Model) handleTokenKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.tokenInput.Blur()
		m.view = ResultView
		return m, nil
	case "enter":
		token := strings.TrimSpace(m.tokenInput.Value())
		if token == "" {
			return m, nil
		}
		m.tokenInput.Blur()
		return m, m.startHandover(token)
	}

	var cmd tea.Cmd
	m.tokenInput, cmd = m.tokenInput.Update(msg)
	return m, cmd
}

// awaitingToken reports whether the migration stopped after requesting the PLC signature.
func (m *Model) awaitingToken() bool {
	return m.session != nil && m.session.Record.State() == models.HandoverRequested
}

func (m *Model) startMigration() tea.Cmd {
	r := &run{updates: make(chan tasks.ProgressUpdate, 64), done: migrationCompleteMsg}
	opts := m.opts
	opts.Observer = tasks.ChannelObserver(r.updates)

	go func() {
		session, err := m.engine.Migrate(m.ctx, opts)
		r.outcome = runOutcome{session, err}
		close(r.updates)
	}()

	return m.begin(r)
}

func (m *Model) startHandover(token string) tea.Cmd {
	r := &run{updates: make(chan tasks.ProgressUpdate, 64), done: handoverCompleteMsg}
	session := m.session

	go func() {
		err := m.engine.SignAndSubmitHandover(m.ctx, session, token)
		r.outcome = runOutcome{session, err}
		close(r.updates)
	}()

	return m.begin(r)
}

func (m *Model) begin(r *run) tea.Cmd {
	m.active = r
	m.err = nil
	m.log = nil
	m.progress = tasks.ProgressUpdate{}
	m.view = RunView
	return tea.Batch(m.spinner.Tick, m.waitFor(r))
}

func (m *Model) waitFor(r *run) tea.Cmd {
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-r.updates
		if !ok {
			return r.done(r.outcome.session, r.outcome.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render("Migrate account?")

	var b strings.Builder
	b.WriteString(m.row("Account", shared.NormalizeHandle(m.opts.SourceHandle)))
	b.WriteString(m.row("Destination", shared.NormalizeHost(m.opts.DestinationHost)))
	if m.opts.DestinationHandle != "" {
		b.WriteString(m.row("New handle", m.opts.DestinationHandle))
	}
	b.WriteString(m.row("Phases", phaseSummary(m.opts.Flags)))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n%s", title, b.String(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderRun() string {
	title := styles.title.Render("Migrating")

	phase := fmt.Sprintf("%s %s", m.spinner.View(), m.progress.Phase)
	if m.progress.Message == "" {
		phase = fmt.Sprintf("%s starting...", m.spinner.View())
	}

	var bar string
	switch m.progress.Phase {
	case tasks.MigrateBlobs, tasks.ReconcileBlobs:
		if m.progress.Total > 0 {
			pct := min(float64(m.progress.Step)/float64(m.progress.Total), 1)
			bar = "\n" + m.bar.ViewAs(pct) + "\n"
		}
	}

	lines := styles.help.Render(strings.Join(m.log, "\n"))
	return fmt.Sprintf("%s\n%s\n%s\n%s\n\n%s", title, phase, bar, lines, m.help.ShortHelpView([]key.Binding{m.keys.quit}))
}

func (m *Model) renderResult() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("✗ %v", m.err)))
		b.WriteString("\n")
		if errors.Is(m.err, shared.ErrAuthFactorRequired) {
			b.WriteString(styles.warn.Render("Check your email for a sign-in code and start again with --auth-factor."))
			b.WriteString("\n")
		}
	}

	if m.session != nil {
		rec := m.session.Record
		if m.err == nil {
			b.WriteString(styles.ok.Render(fmt.Sprintf("✓ Migration of %s is %s", rec.DID(), rec.State())))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.row("From", rec.SourceHost()))
		b.WriteString(m.row("To", rec.TargetHost()))
		b.WriteString(m.row("Blobs", fmt.Sprintf("%d/%d imported", rec.BlobsImported(), rec.BlobsExpected())))
		for _, g := range rec.ListingGaps() {
			b.WriteString(styles.warn.Render(fmt.Sprintf("Listing stopped after cursor %q: %s", g.Cursor, g.Cause)))
			b.WriteString("\n")
		}

		if len(rec.MissingBlobs()) > 0 {
			b.WriteString("\n")
			b.WriteString(m.missingList.View())
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(styles.help.Render(nextStep(rec)))
		b.WriteString("\n")
	}

	helpKeys := []key.Binding{m.keys.quit}
	if len(m.missingListItems()) > 0 {
		helpKeys = append([]key.Binding{m.keys.up, m.keys.down}, helpKeys...)
	}
	if m.awaitingToken() {
		helpKeys = append([]key.Binding{m.keys.token}, helpKeys...)
	}
	return fmt.Sprintf("%s\n%s", b.String(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderToken() string {
	title := styles.title.Render("Sign identity handover")
	body := fmt.Sprintf(
		"Enter the token emailed by %s.\n\n%s\n",
		m.session.Record.SourceHost(), m.tokenInput.View(),
	)
	helpKeys := []key.Binding{m.keys.enter, m.keys.back}
	return fmt.Sprintf("%s\n%s\n%s", title, body, m.help.ShortHelpView(helpKeys))
}

func (m *Model) missingListItems() []list.Item {
	return m.missingList.Items()
}

func (m *Model) row(label, value string) string {
	return styles.label.Render(label) + value + "\n"
}

func nextStep(rec *models.MigrationRecord) string {
	switch rec.State() {
	case models.Complete:
		return "The account now lives on " + rec.TargetHost() + ". The old account is deactivated."
	case models.HandoverRequested:
		return "Check your email for the PLC token, then press t to sign the handover."
	default:
		return "Run the migration again to resume from " + rec.State().String() + "."
	}
}

func phaseSummary(f models.PhaseFlags) string {
	var parts []string
	for _, p := range []struct {
		on   bool
		name string
	}{
		{f.CreateAccount, "account"},
		{f.MigrateRepo, "repo"},
		{f.MigrateBlobs, "blobs"},
		{f.MigrateMissingBlobs, "reconcile"},
		{f.MigratePrefs, "prefs"},
		{f.MigratePlcRecord, "plc"},
	} {
		if p.on {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
