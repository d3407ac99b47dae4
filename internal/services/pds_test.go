package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

func newTestPDS(t *testing.T, handler http.HandlerFunc) (*PDSClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPDSClient(srv.URL, srv.Client()), srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggedIn(t *testing.T, c *PDSClient) {
	t.Helper()
	if _, err := c.Login(context.Background(), "alice.test", "hunter2", ""); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func TestPDSClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Login", func(t *testing.T) {
		t.Run("Stores Session And Attaches Bearer Token", func(t *testing.T) {
			var authHeader string
			c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/xrpc/" + nsidCreateSession:
					var body map[string]string
					_ = json.NewDecoder(r.Body).Decode(&body)
					if body["identifier"] != "alice.test" || body["password"] != "hunter2" {
						writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "AuthenticationRequired"})
						return
					}
					writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "access-1", "refreshJwt": "refresh-1"})
				case "/xrpc/" + nsidCheckAccountStatus:
					authHeader = r.Header.Get("Authorization")
					writeJSON(w, http.StatusOK, map[string]any{"activated": true, "expectedBlobs": 3, "importedBlobs": 2})
				}
			})

			loggedIn(t, c)
			if c.Session().DID != "did:plc:abc" {
				t.Errorf("expected session DID did:plc:abc, got %s", c.Session().DID)
			}

			st, err := c.CheckAccountStatus(ctx)
			if err != nil {
				t.Fatalf("CheckAccountStatus failed: %v", err)
			}
			if authHeader != "Bearer access-1" {
				t.Errorf("expected bearer token header, got %q", authHeader)
			}
			if st.ExpectedBlobs != 3 || st.ImportedBlobs != 2 || st.BlobsComplete() {
				t.Errorf("unexpected status: %+v", st)
			}
		})

		t.Run("Auth Factor Required", func(t *testing.T) {
			c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":   "AuthFactorTokenRequired",
					"message": "A sign in code has been sent to your email address",
				})
			})

			_, err := c.Login(ctx, "alice.test", "hunter2", "")
			if !errors.Is(err, shared.ErrAuthFactorRequired) {
				t.Fatalf("expected ErrAuthFactorRequired, got %v", err)
			}
			if !IsAuthFactorRequired(err) {
				t.Error("IsAuthFactorRequired should report true")
			}

			var xerr *XRPCError
			if !errors.As(err, &xerr) || xerr.Method != nsidCreateSession {
				t.Errorf("expected XRPCError for %s, got %v", nsidCreateSession, err)
			}
		})

		t.Run("Sends Auth Factor Token", func(t *testing.T) {
			var got string
			c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				got = body["authFactorToken"]
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "a"})
			})

			if _, err := c.Login(ctx, "alice.test", "pw", "ABCDE-12345"); err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if got != "ABCDE-12345" {
				t.Errorf("expected auth factor token to be sent, got %q", got)
			}
		})
	})

	t.Run("Authenticated Call Without Session", func(t *testing.T) {
		c := NewPDSClient("https://pds.invalid", nil)
		_, err := c.CheckAccountStatus(ctx)
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("CreateAccount Uses Service Token", func(t *testing.T) {
		var authHeader string
		var input models.CreateAccountInput
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			authHeader = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&input)
			writeJSON(w, http.StatusOK, map[string]string{"did": input.DID, "handle": input.Handle, "accessJwt": "new-access"})
		})

		s, err := c.CreateAccount(ctx, models.CreateAccountInput{
			DID: "did:plc:abc", Handle: "alice.new.test", Email: "a@example.com", Password: "pw",
		}, "svc-token")
		if err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
		if authHeader != "Bearer svc-token" {
			t.Errorf("expected service token bearer, got %q", authHeader)
		}
		if input.DID != "did:plc:abc" {
			t.Errorf("expected requested DID to be sent, got %q", input.DID)
		}
		if s.DID != "did:plc:abc" || c.Session() == nil {
			t.Error("expected the new session to be adopted")
		}
	})

	t.Run("Blobs", func(t *testing.T) {
		var uploadedType string
		var uploaded []byte
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/xrpc/" + nsidCreateSession:
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "a"})
			case "/xrpc/" + nsidListBlobs:
				q := r.URL.Query()
				if q.Get("limit") != "100" || q.Get("did") != "did:plc:abc" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidRequest"})
					return
				}
				if q.Get("cursor") == "" {
					writeJSON(w, http.StatusOK, map[string]any{"cids": []string{"bafy1", "bafy2"}, "cursor": "c1"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"cids": []string{}})
			case "/xrpc/" + nsidGetBlob:
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write([]byte("png-bytes-" + r.URL.Query().Get("cid")))
			case "/xrpc/" + nsidUploadBlob:
				uploadedType = r.Header.Get("Content-Type")
				uploaded, _ = io.ReadAll(r.Body)
				writeJSON(w, http.StatusOK, map[string]any{"blob": map[string]string{}})
			case "/xrpc/" + nsidListMissingBlobs:
				writeJSON(w, http.StatusOK, map[string]any{
					"blobs": []map[string]string{{"cid": "bafy9", "recordUri": "at://did:plc:abc/app.bsky.feed.post/1"}},
				})
			}
		})
		loggedIn(t, c)

		cids, cursor, err := c.ListBlobs(ctx, "did:plc:abc", "", 100)
		if err != nil {
			t.Fatalf("ListBlobs failed: %v", err)
		}
		if len(cids) != 2 || cursor != "c1" {
			t.Errorf("unexpected first page: %v %q", cids, cursor)
		}

		cids, cursor, err = c.ListBlobs(ctx, "did:plc:abc", "c1", 100)
		if err != nil || len(cids) != 0 || cursor != "" {
			t.Errorf("expected empty final page, got %v %q %v", cids, cursor, err)
		}

		blob, err := c.GetBlob(ctx, "did:plc:abc", "bafy1")
		if err != nil {
			t.Fatalf("GetBlob failed: %v", err)
		}
		if blob.MimeType != "image/png" || string(blob.Data) != "png-bytes-bafy1" {
			t.Errorf("unexpected blob: %s %q", blob.MimeType, blob.Data)
		}

		if err := c.UploadBlob(ctx, blob.Data, blob.MimeType); err != nil {
			t.Fatalf("UploadBlob failed: %v", err)
		}
		if uploadedType != "image/png" || string(uploaded) != "png-bytes-bafy1" {
			t.Errorf("upload sent %s %q", uploadedType, uploaded)
		}

		missing, _, err := c.ListMissingBlobs(ctx, "", 100)
		if err != nil {
			t.Fatalf("ListMissingBlobs failed: %v", err)
		}
		if len(missing) != 1 || missing[0].CID != "bafy9" || missing[0].RecordURI == "" {
			t.Errorf("unexpected missing blobs: %+v", missing)
		}
	})

	t.Run("Repo Import Sends CAR", func(t *testing.T) {
		var contentType string
		var body []byte
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/xrpc/" + nsidCreateSession:
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "a"})
			case "/xrpc/" + nsidGetRepo:
				_, _ = w.Write([]byte("car-archive"))
			case "/xrpc/" + nsidImportRepo:
				contentType = r.Header.Get("Content-Type")
				body, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
			}
		})
		loggedIn(t, c)

		car, err := c.ExportRepo(ctx, "did:plc:abc")
		if err != nil {
			t.Fatalf("ExportRepo failed: %v", err)
		}
		if err := c.ImportRepo(ctx, car); err != nil {
			t.Fatalf("ImportRepo failed: %v", err)
		}
		if contentType != carContentType || string(body) != "car-archive" {
			t.Errorf("import sent %s %q", contentType, body)
		}
	})

	t.Run("Preferences Round Trip Verbatim", func(t *testing.T) {
		var put map[string]json.RawMessage
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/xrpc/" + nsidCreateSession:
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "a"})
			case "/xrpc/" + nsidGetPreferences:
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"preferences":[{"$type":"app.bsky.actor.defs#adultContentPref","enabled":false}]}`))
			case "/xrpc/" + nsidPutPreferences:
				_ = json.NewDecoder(r.Body).Decode(&put)
				w.WriteHeader(http.StatusOK)
			}
		})
		loggedIn(t, c)

		prefs, err := c.GetPreferences(ctx)
		if err != nil {
			t.Fatalf("GetPreferences failed: %v", err)
		}
		if err := c.PutPreferences(ctx, prefs); err != nil {
			t.Fatalf("PutPreferences failed: %v", err)
		}
		if !strings.Contains(string(put["preferences"]), "adultContentPref") {
			t.Errorf("preferences not forwarded verbatim: %s", put["preferences"])
		}
	})

	t.Run("PLC Operations", func(t *testing.T) {
		var signBody map[string]any
		var submitted map[string]json.RawMessage
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/xrpc/" + nsidCreateSession:
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc", "accessJwt": "a"})
			case "/xrpc/" + nsidRecommendedCreds:
				writeJSON(w, http.StatusOK, map[string]any{"rotationKeys": []string{"did:key:zNew"}})
			case "/xrpc/" + nsidSignPlcOperation:
				_ = json.NewDecoder(r.Body).Decode(&signBody)
				writeJSON(w, http.StatusOK, map[string]any{"operation": map[string]any{"rotationKeys": []string{"did:key:zNew"}}})
			case "/xrpc/" + nsidSubmitPlcOperation:
				_ = json.NewDecoder(r.Body).Decode(&submitted)
				w.WriteHeader(http.StatusOK)
			}
		})
		loggedIn(t, c)

		creds, err := c.GetRecommendedDidCredentials(ctx)
		if err != nil {
			t.Fatalf("GetRecommendedDidCredentials failed: %v", err)
		}
		op, err := c.SignPlcOperation(ctx, "TOKEN", creds)
		if err != nil {
			t.Fatalf("SignPlcOperation failed: %v", err)
		}
		if signBody["token"] != "TOKEN" || signBody["rotationKeys"] == nil {
			t.Errorf("sign request missing fields: %v", signBody)
		}
		if err := c.SubmitPlcOperation(ctx, op); err != nil {
			t.Fatalf("SubmitPlcOperation failed: %v", err)
		}
		if !strings.Contains(string(submitted["operation"]), "did:key:zNew") {
			t.Errorf("operation not forwarded: %s", submitted["operation"])
		}
	})

	t.Run("Error Mapping", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			body   string
			target error
		}{
			{"not found", http.StatusNotFound, `{"error":"RepoNotFound"}`, shared.ErrNotFound},
			{"unavailable", http.StatusServiceUnavailable, ``, shared.ErrServiceUnavailable},
			{"expired", http.StatusBadRequest, `{"error":"ExpiredToken"}`, shared.ErrAuthFailed},
			{"generic", http.StatusBadRequest, `{"error":"InvalidRequest"}`, shared.ErrAPIRequest},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				})

				_, err := c.DescribeServer(ctx)
				if !errors.Is(err, tt.target) {
					t.Errorf("expected %v, got %v", tt.target, err)
				}
			})
		}

		t.Run("Empty Body Uses Status Text", func(t *testing.T) {
			c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			})

			_, err := c.DescribeServer(ctx)
			var xerr *XRPCError
			if !errors.As(err, &xerr) || xerr.Name != http.StatusText(http.StatusBadGateway) {
				t.Errorf("expected status text name, got %v", err)
			}
		})
	})

	t.Run("ResolveHandle", func(t *testing.T) {
		c, _ := newTestPDS(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("resolveHandle should be unauthenticated")
			}
			if r.URL.Query().Get("handle") == "alice.bsky.social" {
				writeJSON(w, http.StatusOK, map[string]string{"did": "did:plc:abc"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidRequest", "message": "Unable to resolve handle"})
		})

		did, err := c.ResolveHandle(ctx, "alice.bsky.social")
		if err != nil || did != "did:plc:abc" {
			t.Errorf("ResolveHandle = %q, %v", did, err)
		}

		_, err = c.ResolveHandle(ctx, "nobody.bsky.social")
		if !errors.Is(err, shared.ErrResolution) {
			t.Errorf("expected ErrResolution, got %v", err)
		}
	})

	t.Run("Host Is Normalized", func(t *testing.T) {
		c := NewPDSClient("PDS.Example.com/", nil)
		if c.Host() != "https://pds.example.com" {
			t.Errorf("unexpected host %q", c.Host())
		}
	})
}
