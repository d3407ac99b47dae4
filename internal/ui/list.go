package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/atx/internal/models"
)

var _ list.Item = missingBlobItem{}

// missingBlobItem wraps [models.MissingBlob] to implement [list.Item].
type missingBlobItem struct {
	blob models.MissingBlob
}

func (i missingBlobItem) FilterValue() string { return i.blob.CID }
func (i missingBlobItem) Title() string       { return i.blob.CID }
func (i missingBlobItem) Description() string {
	desc := fmt.Sprintf("%s: %s", i.blob.Stage, i.blob.Cause)
	if i.blob.MimeType != "" {
		desc = fmt.Sprintf("%s • %s", i.blob.MimeType, desc)
	}
	return desc
}

func newMissingList(blobs []models.MissingBlob, width, height int) list.Model {
	items := make([]list.Item, len(blobs))
	for i, mb := range blobs {
		items[i] = missingBlobItem{blob: mb}
	}
	l := list.New(items, list.NewDefaultDelegate(), width, height)
	l.Title = fmt.Sprintf("Missing blobs (%d)", len(blobs))
	l.SetShowHelp(false)
	return l
}
