// ABOUTME: In-memory project catalogue for the fake backend: projects, chat history, and snapshots.
// ABOUTME: Snapshot listing is newest-first and pruned to MaxSnapshots; revert drops the target and newer ones.
package fakebackend

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/buildpilot/backend"
)

// MaxSnapshots bounds how many snapshots each project keeps.
const MaxSnapshots = 5

type projectRecord struct {
	info      backend.ProjectInfo
	static    bool
	history   []backend.HistoryEntry
	snapshots []backend.Snapshot
}

// store keeps projects in insertion order.
type store struct {
	mu       sync.RWMutex
	order    []string
	projects map[string]*projectRecord
}

func newStore() *store {
	return &store{projects: make(map[string]*projectRecord)}
}

// ensure creates the project on first use.
func (s *store) ensure(name, tech string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[name]; ok {
		return
	}
	if tech == "" {
		tech = "React"
	}
	s.projects[name] = &projectRecord{info: backend.ProjectInfo{Name: name, Tech: tech}}
	s.order = append(s.order, name)
}

func (s *store) setStatic(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[name]; ok {
		p.static = true
		p.info.Tech = "HTML/CSS/JS"
	}
}

func (s *store) list() []backend.ProjectInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.ProjectInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.projects[name].info)
	}
	return out
}

func (s *store) get(name string) (projectRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	if !ok {
		return projectRecord{}, false
	}
	cp := *p
	cp.history = append([]backend.HistoryEntry(nil), p.history...)
	cp.snapshots = append([]backend.Snapshot(nil), p.snapshots...)
	return cp, true
}

func (s *store) appendHistory(name string, e backend.HistoryEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[name]
	if !ok {
		return false
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	p.history = append(p.history, e)
	return true
}

func (s *store) takeSnapshot(name, prompt string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[name]
	if !ok {
		return ""
	}
	if len(prompt) > 100 {
		prompt = prompt[:100]
	}
	ts := float64(now.UnixNano()) / 1e9
	if len(p.snapshots) > 0 && ts <= p.snapshots[0].Timestamp {
		ts = p.snapshots[0].Timestamp + 1e-6
	}
	snap := backend.Snapshot{
		ID:            ulid.Make().String(),
		Timestamp:     ts,
		PromptPreview: prompt,
	}
	p.snapshots = append(p.snapshots, snap)
	sort.SliceStable(p.snapshots, func(i, j int) bool {
		return p.snapshots[i].Timestamp > p.snapshots[j].Timestamp
	})
	if len(p.snapshots) > MaxSnapshots {
		p.snapshots = p.snapshots[:MaxSnapshots]
	}
	return snap.ID
}

// revert removes the target snapshot and every newer one.
func (s *store) revert(name, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[name]
	if !ok {
		return false
	}
	var target *backend.Snapshot
	for i := range p.snapshots {
		if p.snapshots[i].ID == id {
			target = &p.snapshots[i]
			break
		}
	}
	if target == nil {
		return false
	}
	cutoff := target.Timestamp
	kept := p.snapshots[:0]
	for _, snap := range p.snapshots {
		if snap.Timestamp < cutoff {
			kept = append(kept, snap)
		}
	}
	p.snapshots = kept
	return true
}
