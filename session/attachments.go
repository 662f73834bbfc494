// ABOUTME: Pending attachment queue owned by the input layer until a build is submitted.
// ABOUTME: Take drains the queue atomically so attachments go out with exactly one request.
package session

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389-research/buildpilot/backend"
)

// MaxAttachmentSize bounds a single attachment.
const MaxAttachmentSize = 10 << 20

// Attachment is one file queued for the next build.
type Attachment struct {
	Name      string
	Data      []byte
	MediaType string
}

// Attachments is an ordered queue of pending attachments.
type Attachments struct {
	mu    sync.Mutex
	items []Attachment
}

// Add queues an attachment, sniffing the media type when it is empty.
func (a *Attachments) Add(att Attachment) {
	if att.MediaType == "" {
		att.MediaType = detectMediaType(att.Name, att.Data)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, att)
}

// AddFile reads path and queues it.
func (a *Attachments) AddFile(path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return Attachment{}, fmt.Errorf("attach %s: is a directory", path)
	}
	if info.Size() > MaxAttachmentSize {
		return Attachment{}, fmt.Errorf("attach %s: %d bytes exceeds the %d byte limit", path, info.Size(), MaxAttachmentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	name := filepath.Base(path)
	att := Attachment{Name: name, Data: data, MediaType: detectMediaType(name, data)}
	a.Add(att)
	return att, nil
}

// Len returns the number of queued attachments.
func (a *Attachments) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Names returns the queued file names in order.
func (a *Attachments) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, len(a.items))
	for i, it := range a.items {
		names[i] = it.Name
	}
	return names
}

// Take returns every queued attachment and empties the queue.
func (a *Attachments) Take() []Attachment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.items
	a.items = nil
	return out
}

func detectMediaType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func toWire(atts []Attachment) []backend.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]backend.Attachment, len(atts))
	for i, a := range atts {
		out[i] = backend.Attachment{Name: a.Name, MediaType: a.MediaType, Data: a.Data}
	}
	return out
}
