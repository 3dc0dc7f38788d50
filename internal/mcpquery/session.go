package mcpquery

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nanoprof/miniperf/internal/wire"
	"github.com/nanoprof/miniperf/internal/writer"
)

// SessionIndex locates completed recording sessions under a root
// directory: every immediate subdirectory containing a readable event
// container is one session, named by `record -o <dir>` (spec.md §6.3).
type SessionIndex struct {
	root string
}

// NewSessionIndex roots an index at dir.
func NewSessionIndex(dir string) *SessionIndex {
	return &SessionIndex{root: dir}
}

// List returns every session directory name under the root, newest
// (by modification time) first.
func (idx *SessionIndex) List() ([]string, error) {
	entries, err := os.ReadDir(idx.root)
	if err != nil {
		return nil, err
	}
	type dated struct {
		name    string
		modTime int64
	}
	var found []dated
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(idx.root, e.Name(), "events.miniperf")); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, dated{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].modTime > found[j].modTime })

	names := make([]string, len(found))
	for i, d := range found {
		names[i] = d.name
	}
	return names, nil
}

// ReadEvents replays every event in the named session.
func (idx *SessionIndex) ReadEvents(name string) ([]wire.Event, error) {
	r, err := writer.OpenReader(filepath.Join(idx.root, name))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var events []wire.Event
	for {
		ev, err := r.Next()
		if err != nil {
			break // io.EOF, or a truncated container: return what decoded cleanly
		}
		events = append(events, ev)
	}
	return events, nil
}
