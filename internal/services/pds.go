package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
	"golang.org/x/oauth2"
)

// PDSClient implements [Endpoint] over XRPC.
//
// Session tokens are held as an [oauth2.Token] and attached to requests by an [oauth2.Transport].
type PDSClient struct {
	host       string
	httpClient *http.Client
	token      *oauth2.Token
	session    *models.AuthSession
}

// NewPDSClient creates a client for host. A nil client falls back to [http.DefaultClient].
func NewPDSClient(host string, client *http.Client) *PDSClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &PDSClient{host: shared.NormalizeHost(host), httpClient: client}
}

// NewPDSClientFactory returns an [EndpointFactory] whose clients share one [http.Client] with the given timeout.
func NewPDSClientFactory(timeout time.Duration) EndpointFactory {
	client := &http.Client{Timeout: timeout}
	return func(host string) Endpoint {
		return NewPDSClient(host, client)
	}
}

func (c *PDSClient) Host() string { return c.host }

// Session returns the current session, or nil before login.
func (c *PDSClient) Session() *models.AuthSession { return c.session }

// xrpcCall describes one XRPC request.
type xrpcCall struct {
	method      string
	nsid        string
	params      url.Values
	body        any
	raw         []byte
	contentType string
	token       *oauth2.Token
	authed      bool
}

// clientFor returns an [http.Client] that attaches tok, or the bare client when tok is nil.
func (c *PDSClient) clientFor(tok *oauth2.Token) *http.Client {
	if tok == nil {
		return c.httpClient
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport:     &oauth2.Transport{Source: oauth2.StaticTokenSource(tok), Base: base},
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
}

// do sends call and returns the response when the status is 2xx. The caller closes the body.
func (c *PDSClient) do(ctx context.Context, call xrpcCall) (*http.Response, error) {
	tok := call.token
	if call.authed && tok == nil {
		if c.token == nil {
			return nil, fmt.Errorf("%w: %s requires a session", shared.ErrNotAuthenticated, call.nsid)
		}
		tok = c.token
	}

	endpoint := c.host + "/xrpc/" + call.nsid
	if len(call.params) > 0 {
		endpoint += "?" + call.params.Encode()
	}

	var body io.Reader
	contentType := call.contentType
	switch {
	case call.raw != nil:
		body = bytes.NewReader(call.raw)
	case call.body != nil:
		data, err := json.Marshal(call.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", call.nsid, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	method := call.method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.clientFor(tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrAPIRequest, call.nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(call.nsid, resp)
	}
	return resp, nil
}

// doJSON sends call and decodes a JSON response into result when it is non-nil.
func (c *PDSClient) doJSON(ctx context.Context, call xrpcCall, result any) error {
	resp, err := c.do(ctx, call)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", call.nsid, err)
	}
	return nil
}

func (c *PDSClient) adopt(s *models.AuthSession) {
	c.session = s
	c.token = &oauth2.Token{AccessToken: s.AccessJwt, RefreshToken: s.RefreshJwt, TokenType: "Bearer"}
}

// Login opens a session with createSession.
func (c *PDSClient) Login(ctx context.Context, identifier, password, authFactor string) (*models.AuthSession, error) {
	payload := map[string]string{"identifier": identifier, "password": password}
	if authFactor != "" {
		payload["authFactorToken"] = authFactor
	}

	var s models.AuthSession
	if err := c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidCreateSession, body: payload}, &s); err != nil {
		return nil, err
	}
	if s.AccessJwt == "" {
		return nil, fmt.Errorf("%w: %s returned no access token", shared.ErrAuthFailed, c.host)
	}

	c.adopt(&s)
	return &s, nil
}

func (c *PDSClient) DescribeServer(ctx context.Context) (*models.ServerDescription, error) {
	var d models.ServerDescription
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidDescribeServer}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *PDSClient) GetServiceAuth(ctx context.Context, aud, lxm string) (string, error) {
	params := url.Values{"aud": {aud}}
	if lxm != "" {
		params.Set("lxm", lxm)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidGetServiceAuth, params: params, authed: true}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: %s returned an empty service token", shared.ErrAPIRequest, nsidGetServiceAuth)
	}
	return out.Token, nil
}

func (c *PDSClient) CreateAccount(ctx context.Context, input models.CreateAccountInput, serviceToken string) (*models.AuthSession, error) {
	call := xrpcCall{method: http.MethodPost, nsid: nsidCreateAccount, body: input}
	if serviceToken != "" {
		call.token = &oauth2.Token{AccessToken: serviceToken, TokenType: "Bearer"}
	}

	var s models.AuthSession
	if err := c.doJSON(ctx, call, &s); err != nil {
		return nil, err
	}
	if s.AccessJwt != "" {
		c.adopt(&s)
	}
	return &s, nil
}

func (c *PDSClient) CheckAccountStatus(ctx context.Context) (*models.AccountStatus, error) {
	var st models.AccountStatus
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidCheckAccountStatus, authed: true}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *PDSClient) ExportRepo(ctx context.Context, did string) ([]byte, error) {
	resp, err := c.do(ctx, xrpcCall{nsid: nsidGetRepo, params: url.Values{"did": {did}}, authed: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository export: %w", err)
	}
	return data, nil
}

func (c *PDSClient) ImportRepo(ctx context.Context, car []byte) error {
	call := xrpcCall{method: http.MethodPost, nsid: nsidImportRepo, raw: car, contentType: carContentType, authed: true}
	return c.doJSON(ctx, call, nil)
}

func (c *PDSClient) ListBlobs(ctx context.Context, did, cursor string, limit int) ([]string, string, error) {
	params := url.Values{"did": {did}, "limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var out struct {
		CIDs   []string `json:"cids"`
		Cursor string   `json:"cursor"`
	}
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidListBlobs, params: params, authed: true}, &out); err != nil {
		return nil, "", err
	}
	return out.CIDs, out.Cursor, nil
}

func (c *PDSClient) GetBlob(ctx context.Context, did, cid string) (*models.Blob, error) {
	params := url.Values{"did": {did}, "cid": {cid}}
	resp, err := c.do(ctx, xrpcCall{nsid: nsidGetBlob, params: params, authed: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", cid, err)
	}
	return &models.Blob{CID: cid, MimeType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (c *PDSClient) UploadBlob(ctx context.Context, data []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = defaultBlobContentType
	}
	if data == nil {
		data = []byte{}
	}
	call := xrpcCall{method: http.MethodPost, nsid: nsidUploadBlob, raw: data, contentType: mimeType, authed: true}
	return c.doJSON(ctx, call, nil)
}

func (c *PDSClient) ListMissingBlobs(ctx context.Context, cursor string, limit int) ([]models.BlobRef, string, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var out struct {
		Blobs  []models.BlobRef `json:"blobs"`
		Cursor string           `json:"cursor"`
	}
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidListMissingBlobs, params: params, authed: true}, &out); err != nil {
		return nil, "", err
	}
	return out.Blobs, out.Cursor, nil
}

// GetPreferences returns the raw preferences array.
func (c *PDSClient) GetPreferences(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Preferences json.RawMessage `json:"preferences"`
	}
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidGetPreferences, authed: true}, &out); err != nil {
		return nil, err
	}
	if len(out.Preferences) == 0 {
		return json.RawMessage("[]"), nil
	}
	return out.Preferences, nil
}

// PutPreferences overwrites the preferences array verbatim.
func (c *PDSClient) PutPreferences(ctx context.Context, prefs json.RawMessage) error {
	if len(prefs) == 0 {
		prefs = json.RawMessage("[]")
	}
	body := map[string]json.RawMessage{"preferences": prefs}
	return c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidPutPreferences, body: body, authed: true}, nil)
}

func (c *PDSClient) GetRecommendedDidCredentials(ctx context.Context) (*models.DidCredentials, error) {
	var creds models.DidCredentials
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidRecommendedCreds, authed: true}, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *PDSClient) SignPlcOperation(ctx context.Context, token string, creds *models.DidCredentials) (json.RawMessage, error) {
	body := struct {
		Token string `json:"token"`
		*models.DidCredentials
	}{Token: token, DidCredentials: creds}

	var out struct {
		Operation json.RawMessage `json:"operation"`
	}
	if err := c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidSignPlcOperation, body: body, authed: true}, &out); err != nil {
		return nil, err
	}
	if len(out.Operation) == 0 {
		return nil, fmt.Errorf("%w: %s returned no operation", shared.ErrAPIRequest, nsidSignPlcOperation)
	}
	return out.Operation, nil
}

func (c *PDSClient) SubmitPlcOperation(ctx context.Context, operation json.RawMessage) error {
	body := map[string]json.RawMessage{"operation": operation}
	return c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidSubmitPlcOperation, body: body, authed: true}, nil)
}

func (c *PDSClient) ActivateAccount(ctx context.Context) error {
	return c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidActivateAccount, authed: true}, nil)
}

func (c *PDSClient) DeactivateAccount(ctx context.Context) error {
	body := map[string]any{}
	return c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidDeactivateAccount, body: body, authed: true}, nil)
}

func (c *PDSClient) RequestPlcOperationSignature(ctx context.Context) error {
	return c.doJSON(ctx, xrpcCall{method: http.MethodPost, nsid: nsidRequestPlcSignature, authed: true}, nil)
}

func (c *PDSClient) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	params := url.Values{"handle": {handle}}
	if err := c.doJSON(ctx, xrpcCall{nsid: nsidResolveHandle, params: params}, &out); err != nil {
		return "", fmt.Errorf("%w: %s: %w", shared.ErrResolution, handle, err)
	}
	if out.DID == "" {
		return "", fmt.Errorf("%w: %s resolved to an empty DID", shared.ErrResolution, handle)
	}
	return out.DID, nil
}
