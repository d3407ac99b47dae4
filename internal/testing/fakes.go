package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/services"
	"github.com/desertthunder/atx/internal/shared"
)

// ErrUnreachable is returned by every call on an endpoint the [FakeNetwork] does not know.
var ErrUnreachable = errors.New("host unreachable")

// CallLog records calls across several fakes so tests can assert their order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

// Index returns the position of the first occurrence of call, or -1.
func (l *CallLog) Index(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.calls, call)
}

// Count returns how many recorded calls equal call.
func (l *CallLog) Count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

// UploadedBlob is one upload seen by a [FakeEndpoint].
type UploadedBlob struct {
	Data     []byte
	MimeType string
}

// FakeEndpoint is an in-memory [services.Endpoint].
//
// Source-side blobs are listed from BlobOrder in pages with cursors "c1", "c2", ...; their bytes are the CID
// unless Blobs says otherwise. Destination-side status counts ExpectedCIDs against the uploads received.
type FakeEndpoint struct {
	Name    string
	HostURL string
	Log     *CallLog

	mu sync.Mutex

	DID         string
	Password    string
	AuthFactor  string
	Identifiers []string
	Description *models.ServerDescription
	// CreatedDID overrides the DID returned by CreateAccount.
	CreatedDID  string
	ServiceAuth string
	Handles     map[string]string

	Repo     []byte
	Imported []byte

	BlobOrder []string
	Blobs     map[string][]byte
	BlobTypes map[string]string
	// FailBlob makes GetBlob fail for the CID every time.
	FailBlob map[string]error
	// FailBlobOnce makes GetBlob fail for the CID on the first attempt only.
	FailBlobOnce map[string]error
	// ListErrs are returned by successive ListBlobs calls before listing succeeds.
	ListErrs    []error
	ListCursors []string
	Uploaded    []UploadedBlob

	ExpectedCIDs   []string
	MissingCursors []string

	Prefs    json.RawMessage
	PutPrefs json.RawMessage

	Creds     *models.DidCredentials
	SignedOp  json.RawMessage
	Submitted json.RawMessage
	SignToken string

	Activated bool
	// Errs fails the named method, e.g. "ImportRepo".
	Errs map[string]error
}

func (f *FakeEndpoint) call(method string) error {
	if f.Log != nil {
		f.Log.Record(f.Name + "." + method)
	}
	if f.HostURL == "" {
		return fmt.Errorf("%w: %s", ErrUnreachable, method)
	}
	if err, ok := f.Errs[method]; ok {
		return err
	}
	return nil
}

func (f *FakeEndpoint) Host() string { return f.HostURL }

func (f *FakeEndpoint) Login(_ context.Context, identifier, password, authFactor string) (*models.AuthSession, error) {
	if err := f.call("Login"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Identifiers = append(f.Identifiers, identifier)
	if f.Password != "" && password != f.Password {
		return nil, &services.XRPCError{StatusCode: 401, Method: "createSession", Name: "AuthenticationRequired"}
	}
	if f.AuthFactor != "" && authFactor != f.AuthFactor {
		return nil, &services.XRPCError{StatusCode: 401, Method: "createSession", Name: "AuthFactorTokenRequired"}
	}
	return &models.AuthSession{DID: f.DID, Handle: identifier, AccessJwt: "access"}, nil
}

func (f *FakeEndpoint) DescribeServer(context.Context) (*models.ServerDescription, error) {
	if err := f.call("DescribeServer"); err != nil {
		return nil, err
	}
	if f.Description != nil {
		return f.Description, nil
	}
	return &models.ServerDescription{DID: "did:web:" + strings.TrimPrefix(f.HostURL, "https://")}, nil
}

func (f *FakeEndpoint) GetServiceAuth(_ context.Context, aud, lxm string) (string, error) {
	if err := f.call("GetServiceAuth"); err != nil {
		return "", err
	}
	f.ServiceAuth = aud + "|" + lxm
	return "service-token", nil
}

func (f *FakeEndpoint) CreateAccount(_ context.Context, input models.CreateAccountInput, token string) (*models.AuthSession, error) {
	if err := f.call("CreateAccount"); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &services.XRPCError{StatusCode: 401, Method: "createAccount", Name: "AuthenticationRequired"}
	}
	did := input.DID
	if f.CreatedDID != "" {
		did = f.CreatedDID
	}
	f.DID = did
	return &models.AuthSession{DID: did, Handle: input.Handle, AccessJwt: "access"}, nil
}

func (f *FakeEndpoint) CheckAccountStatus(context.Context) (*models.AccountStatus, error) {
	if err := f.call("CheckAccountStatus"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	imported := 0
	for _, cid := range f.ExpectedCIDs {
		if f.uploadedLocked(cid) {
			imported++
		}
	}
	return &models.AccountStatus{
		Activated:     f.Activated,
		ValidDID:      true,
		ExpectedBlobs: len(f.ExpectedCIDs),
		ImportedBlobs: imported,
	}, nil
}

func (f *FakeEndpoint) uploadedLocked(cid string) bool {
	for _, u := range f.Uploaded {
		if string(u.Data) == cid {
			return true
		}
	}
	return false
}

func (f *FakeEndpoint) ExportRepo(context.Context, string) ([]byte, error) {
	if err := f.call("ExportRepo"); err != nil {
		return nil, err
	}
	return f.Repo, nil
}

func (f *FakeEndpoint) ImportRepo(_ context.Context, car []byte) error {
	if err := f.call("ImportRepo"); err != nil {
		return err
	}
	f.Imported = car
	return nil
}

func (f *FakeEndpoint) ListBlobs(_ context.Context, _ string, cursor string, limit int) ([]string, string, error) {
	if err := f.call("ListBlobs"); err != nil {
		return nil, "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCursors = append(f.ListCursors, cursor)
	if len(f.ListErrs) > 0 {
		err := f.ListErrs[0]
		f.ListErrs = f.ListErrs[1:]
		return nil, "", err
	}
	return page(f.BlobOrder, cursor, limit)
}

// page slices items for cursor "" or "cN", returning "c(N+1)" while items remain.
func page(items []string, cursor string, limit int) ([]string, string, error) {
	n := 0
	if cursor != "" {
		v, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor %q", cursor)
		}
		n = v
	}
	start := n * limit
	if start >= len(items) {
		return []string{}, "", nil
	}
	end := min(start+limit, len(items))
	next := ""
	if end < len(items) {
		next = "c" + strconv.Itoa(n+1)
	}
	return slices.Clone(items[start:end]), next, nil
}

func (f *FakeEndpoint) GetBlob(_ context.Context, _ string, cid string) (*models.Blob, error) {
	if err := f.call("GetBlob"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailBlob[cid]; ok {
		return nil, err
	}
	if err, ok := f.FailBlobOnce[cid]; ok {
		delete(f.FailBlobOnce, cid)
		return nil, err
	}
	data, ok := f.Blobs[cid]
	if !ok {
		data = []byte(cid)
	}
	mimeType, ok := f.BlobTypes[cid]
	if !ok {
		mimeType = "image/jpeg"
	}
	return &models.Blob{CID: cid, MimeType: mimeType, Data: data}, nil
}

func (f *FakeEndpoint) UploadBlob(_ context.Context, data []byte, mimeType string) error {
	if err := f.call("UploadBlob"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploaded = append(f.Uploaded, UploadedBlob{Data: data, MimeType: mimeType})
	return nil
}

func (f *FakeEndpoint) ListMissingBlobs(_ context.Context, cursor string, limit int) ([]models.BlobRef, string, error) {
	if err := f.call("ListMissingBlobs"); err != nil {
		return nil, "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MissingCursors = append(f.MissingCursors, cursor)

	var missing []string
	for _, cid := range f.ExpectedCIDs {
		if !f.uploadedLocked(cid) {
			missing = append(missing, cid)
		}
	}
	cids, next, err := page(missing, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	refs := make([]models.BlobRef, len(cids))
	for i, cid := range cids {
		refs[i] = models.BlobRef{CID: cid, RecordURI: "at://" + f.DID + "/app.bsky.feed.post/" + cid}
	}
	return refs, next, nil
}

func (f *FakeEndpoint) GetPreferences(context.Context) (json.RawMessage, error) {
	if err := f.call("GetPreferences"); err != nil {
		return nil, err
	}
	return f.Prefs, nil
}

func (f *FakeEndpoint) PutPreferences(_ context.Context, prefs json.RawMessage) error {
	if err := f.call("PutPreferences"); err != nil {
		return err
	}
	f.PutPrefs = prefs
	return nil
}

func (f *FakeEndpoint) GetRecommendedDidCredentials(context.Context) (*models.DidCredentials, error) {
	if err := f.call("GetRecommendedDidCredentials"); err != nil {
		return nil, err
	}
	if f.Creds == nil {
		return &models.DidCredentials{}, nil
	}
	return f.Creds, nil
}

func (f *FakeEndpoint) SignPlcOperation(_ context.Context, token string, creds *models.DidCredentials) (json.RawMessage, error) {
	if err := f.call("SignPlcOperation"); err != nil {
		return nil, err
	}
	f.SignToken = token
	if f.SignedOp != nil {
		return f.SignedOp, nil
	}
	return json.Marshal(map[string]any{"type": "plc_operation", "rotationKeys": creds.RotationKeys, "sig": "sig"})
}

func (f *FakeEndpoint) SubmitPlcOperation(_ context.Context, op json.RawMessage) error {
	if err := f.call("SubmitPlcOperation"); err != nil {
		return err
	}
	f.Submitted = op
	return nil
}

func (f *FakeEndpoint) ActivateAccount(context.Context) error {
	if err := f.call("ActivateAccount"); err != nil {
		return err
	}
	f.Activated = true
	return nil
}

func (f *FakeEndpoint) DeactivateAccount(context.Context) error {
	if err := f.call("DeactivateAccount"); err != nil {
		return err
	}
	f.Activated = false
	return nil
}

func (f *FakeEndpoint) RequestPlcOperationSignature(context.Context) error {
	return f.call("RequestPlcOperationSignature")
}

func (f *FakeEndpoint) ResolveHandle(_ context.Context, handle string) (string, error) {
	if err := f.call("ResolveHandle"); err != nil {
		return "", err
	}
	did, ok := f.Handles[handle]
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrResolution, handle)
	}
	return did, nil
}

// FakeNetwork hands out [FakeEndpoint] values by host, all sharing one [CallLog].
type FakeNetwork struct {
	Log       *CallLog
	Endpoints map[string]*FakeEndpoint
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{Log: &CallLog{}, Endpoints: map[string]*FakeEndpoint{}}
}

// Add registers an endpoint labeled name at host.
func (n *FakeNetwork) Add(name, host string) *FakeEndpoint {
	ep := &FakeEndpoint{Name: name, HostURL: host, Log: n.Log, Activated: true}
	n.Endpoints[host] = ep
	return ep
}

// Factory returns an [services.EndpointFactory]. Unknown hosts yield an endpoint whose every call fails.
func (n *FakeNetwork) Factory() services.EndpointFactory {
	return func(host string) services.Endpoint {
		if ep, ok := n.Endpoints[host]; ok {
			return ep
		}
		return &FakeEndpoint{Name: "unknown", Log: n.Log}
	}
}

// FakeResolver is an in-memory [services.IdentityResolver].
type FakeResolver struct {
	mu        sync.Mutex
	Handles   map[string]string
	Docs      map[string]*models.DIDDocument
	Resolved  []string
	DocLookup int
}

func (r *FakeResolver) ResolveHandle(_ context.Context, handle string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resolved = append(r.Resolved, handle)
	did, ok := r.Handles[handle]
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrResolution, handle)
	}
	return did, nil
}

func (r *FakeResolver) ResolveDIDDocument(_ context.Context, did string) (*models.DIDDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DocLookup++
	doc, ok := r.Docs[did]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", shared.ErrResolution, shared.ErrNotFound, did)
	}
	return doc, nil
}

// PDSDocument builds a DID document that declares host as the PDS.
func PDSDocument(did, host string) *models.DIDDocument {
	doc := &models.DIDDocument{ID: did}
	if host != "" {
		doc.Service = []models.DIDService{{ID: models.PDSServiceID, Type: models.PDSServiceType, ServiceEndpoint: host}}
	}
	return doc
}

// FakeChangeLog is an in-memory [services.ChangeLog].
type FakeChangeLog struct {
	Entries map[string][]models.ChangeLogEntry
}

func (c *FakeChangeLog) FetchChangeLog(_ context.Context, did string) ([]models.ChangeLogEntry, error) {
	entries, ok := c.Entries[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, did)
	}
	return entries, nil
}

// ChangeLogOf builds log entries for the given endpoints in order.
func ChangeLogOf(endpoints ...string) []models.ChangeLogEntry {
	entries := make([]models.ChangeLogEntry, len(endpoints))
	for i, ep := range endpoints {
		entries[i] = models.ChangeLogEntry{CID: "op" + strconv.Itoa(i), Endpoint: ep}
	}
	return entries
}
