package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const auditLog = `[
  {"did":"did:plc:abc","cid":"c0","nullified":false,"createdAt":"2023-04-01T00:00:00Z",
   "operation":{"type":"create","service":"https://bsky.social","handle":"alice.bsky.social"}},
  {"did":"did:plc:abc","cid":"c1","nullified":true,"createdAt":"2023-05-01T00:00:00Z",
   "operation":{"type":"plc_operation","services":{"atproto_pds":{"type":"AtprotoPersonalDataServer","endpoint":"https://evil.test"}}}},
  {"did":"did:plc:abc","cid":"c2","nullified":false,"createdAt":"2023-06-01T00:00:00Z",
   "operation":{"type":"plc_operation","services":{"atproto_pds":{"type":"AtprotoPersonalDataServer","endpoint":"https://b.test"}}}},
  {"did":"did:plc:abc","cid":"c3","nullified":false,"createdAt":"2023-07-01T00:00:00Z",
   "operation":{"type":"plc_operation","services":{}}},
  {"did":"did:plc:abc","cid":"c4","nullified":false,"createdAt":"2024-01-01T00:00:00Z",
   "operation":{"type":"plc_operation","services":{"atproto_pds":{"type":"AtprotoPersonalDataServer","endpoint":"https://c.test"}}}}
]`

func TestPLCDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/did:plc:abc/log/audit" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(auditLog))
	}))
	t.Cleanup(srv.Close)

	dir := NewPLCDirectory(srv.URL+"/", srv.Client())

	t.Run("Skips Nullified And Service-less Operations", func(t *testing.T) {
		entries, err := dir.FetchChangeLog(context.Background(), "did:plc:abc")
		if err != nil {
			t.Fatalf("FetchChangeLog failed: %v", err)
		}

		want := []string{"https://bsky.social", "https://b.test", "https://c.test"}
		if len(entries) != len(want) {
			t.Fatalf("expected %d entries, got %d: %+v", len(want), len(entries), entries)
		}
		for i, e := range entries {
			if e.Endpoint != want[i] {
				t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Endpoint)
			}
		}
		if entries[1].CID != "c2" || entries[1].CreatedAt.Year() != 2023 {
			t.Errorf("entry metadata not carried: %+v", entries[1])
		}
	})

	t.Run("Unknown DID", func(t *testing.T) {
		if _, err := dir.FetchChangeLog(context.Background(), "did:plc:nope"); err == nil {
			t.Error("expected error for unknown DID")
		}
	})

	t.Run("Default URL", func(t *testing.T) {
		if NewPLCDirectory("", nil).baseURL != defaultPLCURL {
			t.Error("expected default PLC directory URL")
		}
	})
}
