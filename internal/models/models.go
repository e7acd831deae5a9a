package models

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// NoSelection marks a session whose selection is unset
const NoSelection = -1

// MaxUndoDepth bounds the undo log; the oldest entries are dropped first.
const MaxUndoDepth = 100

// ImageRecord is one image and its caption
type ImageRecord struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64 encoded image bytes
	Caption string `json:"caption"`
}

// Stem returns the record name with its final extension removed
func (r ImageRecord) Stem() string {
	return Stem(r.Name)
}

// Stem strips the final extension from a file name, keeping any directory part.
func Stem(name string) string {
	ext := path.Ext(name)
	if len(ext) < 2 || name == ext || strings.HasSuffix(name, "/"+ext) {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

// ExportOptions controls how a session is turned into an archive
type ExportOptions struct {
	IncludeImages      bool   `json:"include_images"`
	RenameSequentially bool   `json:"rename_sequentially"`
	Prefix             string `json:"prefix"`
	IncludeManifest    bool   `json:"include_manifest"`
}

// CaptionSession holds the records a user is working on, the current selection
// and a single undo log shared by every record in the session.
type CaptionSession struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	records  []ImageRecord
	selected int
	undoLog  []string
	pending  map[string]bool
}

// SessionView is a point-in-time copy of a session, safe to serialize
type SessionView struct {
	ID        string        `json:"id"`
	Images    []ImageRecord `json:"images"`
	Selected  int           `json:"selected"`
	UndoDepth int           `json:"undo_depth"`
	Pending   []string      `json:"pending"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewCaptionSession returns an empty session with no selection
func NewCaptionSession(id string) *CaptionSession {
	return &CaptionSession{
		ID:        id,
		CreatedAt: time.Now(),
		selected:  NoSelection,
	}
}

// View copies the session state
func (s *CaptionSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(s.pending))
	for name := range s.pending {
		pending = append(pending, name)
	}
	sort.Strings(pending)

	return SessionView{
		ID:        s.ID,
		Images:    append([]ImageRecord{}, s.records...),
		Selected:  s.selected,
		UndoDepth: len(s.undoLog),
		Pending:   pending,
		CreatedAt: s.CreatedAt,
	}
}

// BeginAction marks a named action as in flight. It reports false when the
// action is already running.
func (s *CaptionSession) BeginAction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[name] {
		return false
	}
	if s.pending == nil {
		s.pending = make(map[string]bool)
	}
	s.pending[name] = true
	return true
}

// EndAction clears an in-flight marker
func (s *CaptionSession) EndAction(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, name)
}

// Records returns a copy of the records in display order
func (s *CaptionSession) Records() []ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImageRecord(nil), s.records...)
}

// Len returns the number of records
func (s *CaptionSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Selected returns the selected index, or NoSelection
func (s *CaptionSession) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Record returns the record at index
func (s *CaptionSession) Record(index int) (ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(index) {
		return ImageRecord{}, false
	}
	return s.records[index], true
}

// SelectedRecord returns the selected record and its index
func (s *CaptionSession) SelectedRecord() (ImageRecord, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(s.selected) {
		return ImageRecord{}, NoSelection, false
	}
	return s.records[s.selected], s.selected, true
}

// Append adds records to the end of the session. When nothing was selected
// the first appended record becomes the selection. A record whose name is
// already taken is renamed <stem>_2<ext>, <stem>_3<ext>, ... so names stay
// unique within the session.
func (s *CaptionSession) Append(records ...ImageRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]bool, len(s.records)+len(records))
	for _, r := range s.records {
		taken[r.Name] = true
	}

	first := len(s.records)
	for _, r := range records {
		r.Name = uniqueName(r.Name, taken)
		taken[r.Name] = true
		s.records = append(s.records, r)
	}
	if s.selected == NoSelection {
		s.selected = first
	}
}

// SelectAt moves the selection to index. It reports false for an out of range index.
func (s *CaptionSession) SelectAt(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(index) {
		return false
	}
	s.selected = index
	return true
}

// Step moves the selection by delta; at either boundary it does nothing.
func (s *CaptionSession) Step(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == NoSelection {
		return s.selected
	}
	if next := s.selected + delta; s.valid(next) {
		s.selected = next
	}
	return s.selected
}

// UpdateCaption replaces the caption of the record at index
func (s *CaptionSession) UpdateCaption(index int, caption string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(index) {
		return false
	}
	s.records[index].Caption = caption
	return true
}

// UpdateCaptionByName replaces the caption of the record called name and
// returns its current index. It reports false when no such record exists.
func (s *CaptionSession) UpdateCaptionByName(name, caption string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Name == name {
			s.records[i].Caption = caption
			return i, true
		}
	}
	return NoSelection, false
}

// ReplaceContent swaps the image payload of the record at index
func (s *CaptionSession) ReplaceContent(index int, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(index) {
		return false
	}
	s.records[index].Content = content
	return true
}

// DeleteAt removes the record at index. The selection stays on the same index
// when possible, else moves to the last record, else becomes NoSelection.
func (s *CaptionSession) DeleteAt(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(index) {
		return false
	}

	s.records = append(s.records[:index], s.records[index+1:]...)

	switch {
	case len(s.records) == 0:
		s.selected = NoSelection
	case s.selected >= len(s.records):
		s.selected = len(s.records) - 1
	}
	return true
}

// PushUndo records a caption on the undo log
func (s *CaptionSession) PushUndo(caption string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undoLog = append(s.undoLog, caption)
	if len(s.undoLog) > MaxUndoDepth {
		s.undoLog = append([]string(nil), s.undoLog[len(s.undoLog)-MaxUndoDepth:]...)
	}
}

// PopUndo removes and returns the most recent undo entry
func (s *CaptionSession) PopUndo() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popUndo()
}

// Undo pops the undo log onto the currently selected record.
// The log is shared, so the restored caption may have come from another record.
func (s *CaptionSession) Undo() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(s.selected) || len(s.undoLog) == 0 {
		return "", false
	}
	caption, _ := s.popUndo()
	s.records[s.selected].Caption = caption
	return caption, true
}

func (s *CaptionSession) popUndo() (string, bool) {
	if len(s.undoLog) == 0 {
		return "", false
	}
	last := s.undoLog[len(s.undoLog)-1]
	s.undoLog = s.undoLog[:len(s.undoLog)-1]
	return last, true
}

func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	stem := Stem(name)
	ext := name[len(stem):]
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

func (s *CaptionSession) valid(index int) bool {
	return index >= 0 && index < len(s.records)
}
