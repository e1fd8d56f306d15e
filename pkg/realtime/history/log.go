package history

import (
	"strings"
	"sync"
)

type logEntry struct {
	id         string
	typ        string
	role       string
	responseID string
	parts      []Part
	frozen     bool
	seq        int
}

// Log accumulates the items of one session in first-seen order. It is safe
// for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []*logEntry
	byID    map[string]*logEntry
	deleted map[string]struct{}
	frozen  map[string]struct{}
	nextSeq int
}

func NewLog() *Log {
	return &Log{
		byID:    make(map[string]*logEntry),
		deleted: make(map[string]struct{}),
		frozen:  make(map[string]struct{}),
	}
}

// Upsert records a new item or refreshes a known one. Content is replaced only
// when the update carries parts and the item is not frozen. It reports whether
// the log changed.
func (l *Log) Upsert(raw RawItem) bool {
	parts, err := ParseContent(raw.Content)
	if err != nil {
		return false
	}
	id := strings.TrimSpace(raw.ID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if id != "" {
		if _, gone := l.deleted[id]; gone {
			return false
		}
	}
	if e, ok := l.byID[id]; ok && id != "" {
		if e.frozen {
			return false
		}
		if raw.Role != "" {
			e.role = raw.Role
		}
		if raw.Type != "" {
			e.typ = raw.Type
		}
		if raw.ResponseID != "" && e.responseID == "" {
			e.responseID = raw.ResponseID
			if _, dead := l.frozen[e.responseID]; dead {
				e.frozen = true
			}
		}
		if len(parts) > 0 {
			e.parts = mergeParts(e.parts, parts)
		}
		return true
	}

	if raw.ResponseID != "" {
		if _, dead := l.frozen[raw.ResponseID]; dead {
			return false
		}
	}
	e := &logEntry{
		id:         id,
		typ:        raw.Type,
		role:       raw.Role,
		responseID: raw.ResponseID,
		parts:      parts,
		seq:        l.nextSeq,
	}
	l.nextSeq++
	l.entries = append(l.entries, e)
	if id != "" {
		l.byID[id] = e
	}
	return true
}

// mergeParts keeps accumulated values where the update has an empty slot,
// so a final item without transcripts does not erase streamed text.
func mergeParts(prev, next []Part) []Part {
	out := append([]Part(nil), next...)
	for i := range out {
		if i < len(prev) && strings.TrimSpace(out[i].Value) == "" {
			out[i].Value = prev[i].Value
		}
	}
	for i := len(out); i < len(prev); i++ {
		out = append(out, prev[i])
	}
	return out
}

// SetTranscript replaces the value at contentIndex of a known item.
func (l *Log) SetTranscript(itemID string, contentIndex int, text string) bool {
	return l.edit(itemID, contentIndex, func(p *Part) {
		p.Kind = KindTranscript
		p.Value = text
	})
}

// AppendDelta extends the value at contentIndex of a known item.
func (l *Log) AppendDelta(itemID string, contentIndex int, delta string) bool {
	if delta == "" {
		return false
	}
	return l.edit(itemID, contentIndex, func(p *Part) {
		p.Value += delta
	})
}

func (l *Log) edit(itemID string, contentIndex int, fn func(*Part)) bool {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" || contentIndex < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[itemID]
	if !ok || e.frozen {
		return false
	}
	for len(e.parts) <= contentIndex {
		e.parts = append(e.parts, Part{Kind: KindTranscript})
	}
	fn(&e.parts[contentIndex])
	return true
}

// Delete removes an item. Its id is never accepted again.
func (l *Log) Delete(itemID string) bool {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted[itemID] = struct{}{}
	e, ok := l.byID[itemID]
	if !ok {
		return false
	}
	delete(l.byID, itemID)
	for i, cur := range l.entries {
		if cur == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	return true
}

// Replace discards the log and loads a full snapshot.
func (l *Log) Replace(items []RawItem) {
	l.mu.Lock()
	l.entries = nil
	l.byID = make(map[string]*logEntry)
	l.deleted = make(map[string]struct{})
	l.nextSeq = 0
	l.mu.Unlock()

	for _, raw := range items {
		l.Upsert(raw)
	}
}

// Freeze stops further content changes for every item of responseID,
// including items that have not arrived yet.
func (l *Log) Freeze(responseID string) {
	responseID = strings.TrimSpace(responseID)
	if responseID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen[responseID] = struct{}{}
	for _, e := range l.entries {
		if e.responseID == responseID {
			e.frozen = true
		}
	}
}

// Project returns the current display items.
func (l *Log) Project() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.entries))
	for _, e := range l.entries {
		if item, ok := build(e.id, e.typ, e.role, e.parts, e.seq); ok {
			out = append(out, item)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
