package models

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// PDSServiceID is the DID document service fragment for a personal data server.
	PDSServiceID = "#atproto_pds"
	// PDSServiceType is the DID document service type for a personal data server.
	PDSServiceType = "AtprotoPersonalDataServer"
)

// BlobRef identifies an attachment by content address.
type BlobRef struct {
	CID       string `json:"cid"`
	MimeType  string `json:"mimeType,omitempty"`
	RecordURI string `json:"recordUri,omitempty"`
}

// Blob is an attachment fetched from a PDS.
type Blob struct {
	CID      string
	MimeType string
	Data     []byte
}

// AccountStatus is a point-in-time read of an account on a PDS.
type AccountStatus struct {
	Activated          bool   `json:"activated"`
	ValidDID           bool   `json:"validDid"`
	RepoCommit         string `json:"repoCommit"`
	RepoRev            string `json:"repoRev"`
	RepoBlocks         int    `json:"repoBlocks"`
	IndexedRecords     int    `json:"indexedRecords"`
	PrivateStateValues int    `json:"privateStateValues"`
	ExpectedBlobs      int    `json:"expectedBlobs"`
	ImportedBlobs      int    `json:"importedBlobs"`
}

// BlobsComplete reports whether every expected blob has been imported.
func (s AccountStatus) BlobsComplete() bool {
	return s.ExpectedBlobs == s.ImportedBlobs
}

// ServerDescription is what a PDS says about itself.
type ServerDescription struct {
	DID                  string   `json:"did"`
	InviteCodeRequired   bool     `json:"inviteCodeRequired"`
	PhoneVerification    bool     `json:"phoneVerificationRequired"`
	AvailableUserDomains []string `json:"availableUserDomains"`
}

// CreateAccountInput carries the fields for creating an account that keeps an existing DID.
type CreateAccountInput struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode,omitempty"`
}

// AuthSession is the result of a login or account creation.
type AuthSession struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Active     *bool  `json:"active,omitempty"`
}

// DidCredentials are the rotation keys, verification methods and services a PDS recommends for a DID it will host.
type DidCredentials struct {
	RotationKeys        []string        `json:"rotationKeys"`
	AlsoKnownAs         []string        `json:"alsoKnownAs,omitempty"`
	VerificationMethods json.RawMessage `json:"verificationMethods,omitempty"`
	Services            json.RawMessage `json:"services,omitempty"`
}

// DIDService is one entry of a DID document's service list.
type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// DIDDocument is the subset of a DID document needed to locate an account's PDS.
type DIDDocument struct {
	ID          string       `json:"id"`
	AlsoKnownAs []string     `json:"alsoKnownAs"`
	Service     []DIDService `json:"service"`
}

// PDSEndpoint returns the declared personal data server endpoint, if any.
func (d *DIDDocument) PDSEndpoint() (string, bool) {
	for _, svc := range d.Service {
		id := svc.ID
		if i := strings.Index(id, "#"); i > 0 {
			id = id[i:]
		}
		if id == PDSServiceID && svc.Type == PDSServiceType && svc.ServiceEndpoint != "" {
			return svc.ServiceEndpoint, true
		}
	}
	return "", false
}

// ChangeLogEntry is one operation in a DID's PLC audit log, reduced to the PDS it assigned.
type ChangeLogEntry struct {
	CID       string
	Endpoint  string
	CreatedAt time.Time
	Nullified bool
}
