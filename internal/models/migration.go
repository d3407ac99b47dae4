package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// WorkflowState records how far a migration has progressed. States are ordered; a record only moves forward.
type WorkflowState int

const (
	NotStarted WorkflowState = iota
	AccountCreated
	RepoImported
	BlobsImported
	PrefsImported
	HandoverRequested
	Complete
)

func (s WorkflowState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case AccountCreated:
		return "account_created"
	case RepoImported:
		return "repo_imported"
	case BlobsImported:
		return "blobs_imported"
	case PrefsImported:
		return "prefs_imported"
	case HandoverRequested:
		return "handover_requested"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

// ParseWorkflowState is the inverse of [WorkflowState.String].
func ParseWorkflowState(s string) (WorkflowState, error) {
	for st := NotStarted; st <= Complete; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return NotStarted, fmt.Errorf("unknown workflow state %q", s)
}

// PhaseFlags select which phases a run may execute. A false flag turns its phase into a no-op.
type PhaseFlags struct {
	CreateAccount       bool
	MigrateRepo         bool
	MigrateBlobs        bool
	MigrateMissingBlobs bool
	MigratePrefs        bool
	MigratePlcRecord    bool
}

// AllPhases enables every phase.
func AllPhases() PhaseFlags {
	return PhaseFlags{true, true, true, true, true, true}
}

// HandoverOnly enables only the identity handover request.
func HandoverOnly() PhaseFlags {
	return PhaseFlags{MigratePlcRecord: true}
}

// Step names one workflow phase. A record keeps the set of steps it has finished so that a phase skipped by one
// run can still run on a later one, whatever the summary [WorkflowState] says.
type Step string

const (
	StepCreateAccount Step = "create_account"
	StepRepo          Step = "repo"
	StepBlobs         Step = "blobs"
	StepMissingBlobs  Step = "missing_blobs"
	StepPrefs         Step = "prefs"
	StepPlc           Step = "plc"
)

// Steps lists every step in workflow order.
func Steps() []Step {
	return []Step{StepCreateAccount, StepRepo, StepBlobs, StepMissingBlobs, StepPrefs, StepPlc}
}

// ParseSteps reads a comma-separated step list as stored in the database.
func ParseSteps(s string) ([]Step, error) {
	var out []Step
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		step := Step(part)
		if !slices.Contains(Steps(), step) {
			return nil, fmt.Errorf("unknown workflow step %q", part)
		}
		out = append(out, step)
	}
	return out, nil
}

// Blob transfer stages recorded on a [MissingBlob].
const (
	StageSync      = "sync"
	StageReconcile = "reconcile"
)

// MissingBlob is an attachment that could not be transferred, with the reason it failed.
type MissingBlob struct {
	CID        string    `json:"cid"`
	MimeType   string    `json:"mime_type,omitempty"`
	Stage      string    `json:"stage"`
	Cause      string    `json:"cause"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ListingGap is a page of the source blob listing that could not be read.
type ListingGap struct {
	Cursor     string    `json:"cursor"`
	Cause      string    `json:"cause"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MigrationRecord is the persisted part of a migration session.
type MigrationRecord struct {
	id            string
	sequence      int
	did           string
	sourceHandle  string
	sourceHost    string
	targetHost    string
	targetHandle  string
	targetEmail   string
	state         WorkflowState
	steps         []Step
	blobsExpected int
	blobsImported int
	missing       []MissingBlob
	gaps          []ListingGap
	errorMessage  string
	startedAt     *time.Time
	completedAt   *time.Time
	createdAt     time.Time
	updatedAt     time.Time
	deletedAt     *time.Time
}

// NewMigrationRecord creates a record in the [NotStarted] state.
func NewMigrationRecord(sequence int, did, sourceHandle, sourceHost, targetHost string) *MigrationRecord {
	now := time.Now()
	return &MigrationRecord{
		sequence:     sequence,
		did:          did,
		sourceHandle: sourceHandle,
		sourceHost:   sourceHost,
		targetHost:   targetHost,
		state:        NotStarted,
		createdAt:    now,
		updatedAt:    now,
	}
}

func (m *MigrationRecord) ID() string                  { return m.id }
func (m *MigrationRecord) Sequence() int               { return m.sequence }
func (m *MigrationRecord) DID() string                 { return m.did }
func (m *MigrationRecord) SourceHandle() string        { return m.sourceHandle }
func (m *MigrationRecord) SourceHost() string          { return m.sourceHost }
func (m *MigrationRecord) TargetHost() string          { return m.targetHost }
func (m *MigrationRecord) TargetHandle() string        { return m.targetHandle }
func (m *MigrationRecord) TargetEmail() string         { return m.targetEmail }
func (m *MigrationRecord) State() WorkflowState        { return m.state }
func (m *MigrationRecord) BlobsExpected() int          { return m.blobsExpected }
func (m *MigrationRecord) BlobsImported() int          { return m.blobsImported }
func (m *MigrationRecord) ErrorMessage() string        { return m.errorMessage }
func (m *MigrationRecord) StartedAt() *time.Time       { return m.startedAt }
func (m *MigrationRecord) CompletedAt() *time.Time     { return m.completedAt }
func (m *MigrationRecord) CreatedAt() time.Time        { return m.createdAt }
func (m *MigrationRecord) UpdatedAt() time.Time        { return m.updatedAt }
func (m *MigrationRecord) DeletedAt() *time.Time       { return m.deletedAt }
func (m *MigrationRecord) SetID(id string)             { m.id = id }
func (m *MigrationRecord) SetSequence(seq int)         { m.sequence = seq }
func (m *MigrationRecord) SetSourceHost(host string)   { m.sourceHost = host }
func (m *MigrationRecord) SetTargetHandle(h string)    { m.targetHandle = h }
func (m *MigrationRecord) SetTargetEmail(e string)     { m.targetEmail = e }
func (m *MigrationRecord) SetErrorMessage(msg string)  { m.errorMessage = msg }
func (m *MigrationRecord) SetStartedAt(t *time.Time)   { m.startedAt = t }
func (m *MigrationRecord) SetCompletedAt(t *time.Time) { m.completedAt = t }
func (m *MigrationRecord) SetCreatedAt(t time.Time)    { m.createdAt = t }
func (m *MigrationRecord) SetUpdatedAt(t time.Time)    { m.updatedAt = t }
func (m *MigrationRecord) SetDeletedAt(t *time.Time)   { m.deletedAt = t }

// SetState overwrites the state. Used when loading from storage; workflow code calls [MigrationRecord.Advance].
func (m *MigrationRecord) SetState(s WorkflowState) { m.state = s }

// SetBlobCounts records the latest expected/imported counts read from the destination.
func (m *MigrationRecord) SetBlobCounts(expected, imported int) {
	m.blobsExpected = expected
	m.blobsImported = imported
}

// Advance moves the record to s if s is further along, and reports whether it moved.
func (m *MigrationRecord) Advance(s WorkflowState) bool {
	if s <= m.state {
		return false
	}
	m.state = s
	if s == Complete {
		now := time.Now()
		m.completedAt = &now
	}
	return true
}

// Reached reports whether the record is at or past s.
func (m *MigrationRecord) Reached(s WorkflowState) bool {
	return m.state >= s
}

// Done reports whether step has finished on this record.
func (m *MigrationRecord) Done(step Step) bool {
	return slices.Contains(m.steps, step)
}

// MarkDone records step as finished.
func (m *MigrationRecord) MarkDone(step Step) {
	if !m.Done(step) {
		m.steps = append(m.steps, step)
	}
}

// CompletedSteps returns the finished steps in workflow order.
func (m *MigrationRecord) CompletedSteps() []Step {
	var out []Step
	for _, step := range Steps() {
		if m.Done(step) {
			out = append(out, step)
		}
	}
	return out
}

// SetCompletedSteps replaces the finished steps. Used when loading from storage.
func (m *MigrationRecord) SetCompletedSteps(steps []Step) {
	m.steps = nil
	for _, step := range steps {
		m.MarkDone(step)
	}
}

// MissingBlobs returns a copy of the Missing-Blob list in the order entries were added.
func (m *MigrationRecord) MissingBlobs() []MissingBlob {
	return append([]MissingBlob(nil), m.missing...)
}

// AddMissingBlob appends mb unless an entry with the same CID is already present, and reports whether it was added.
func (m *MigrationRecord) AddMissingBlob(mb MissingBlob) bool {
	for _, existing := range m.missing {
		if existing.CID == mb.CID {
			return false
		}
	}
	if mb.RecordedAt.IsZero() {
		mb.RecordedAt = time.Now()
	}
	m.missing = append(m.missing, mb)
	return true
}

// ClearMissingBlobs drops the Missing-Blob list; a fresh reconciliation pass rebuilds it.
func (m *MigrationRecord) ClearMissingBlobs() {
	m.missing = nil
}

// ListingGaps returns a copy of the recorded listing gaps.
func (m *MigrationRecord) ListingGaps() []ListingGap {
	return append([]ListingGap(nil), m.gaps...)
}

// ClearListingGaps drops the recorded gaps; a fresh sync pass records its own.
func (m *MigrationRecord) ClearListingGaps() {
	m.gaps = nil
}

// AddListingGap appends a listing gap.
func (m *MigrationRecord) AddListingGap(g ListingGap) {
	if g.RecordedAt.IsZero() {
		g.RecordedAt = time.Now()
	}
	m.gaps = append(m.gaps, g)
}

// Validate checks the fields required to persist a record.
func (m *MigrationRecord) Validate() error {
	if m.did == "" {
		return fmt.Errorf("did is required")
	}
	if m.sourceHandle == "" {
		return fmt.Errorf("source handle is required")
	}
	if m.sourceHost == "" {
		return fmt.Errorf("source host is required")
	}
	if m.targetHost == "" {
		return fmt.Errorf("target host is required")
	}
	if m.state < NotStarted || m.state > Complete {
		return fmt.Errorf("invalid workflow state %d", m.state)
	}
	return nil
}
