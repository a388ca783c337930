package timbrado

import (
	"context"
	"strings"
	"sync"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// MemoryJournal bitácora en memoria para desarrollo y pruebas.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

func (j *MemoryJournal) Record(_ context.Context, e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemoryJournal) Last(_ context.Context, key string) (JournalEntry, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	doc, stampedUUID := "", ""
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if e.DocumentKey == key || (e.UUID != "" && strings.EqualFold(e.UUID, key)) {
			doc = e.DocumentKey
			break
		}
	}
	if doc == "" {
		return JournalEntry{}, false, nil
	}
	var last JournalEntry
	for _, e := range j.entries {
		if e.DocumentKey != doc {
			continue
		}
		if e.UUID != "" {
			stampedUUID = e.UUID
		}
		last = e
	}
	// como cfdi_document_state: el UUID se conserva aunque la última entrada no lo traiga
	if last.UUID == "" {
		last.UUID = stampedUUID
	}
	return last, true, nil
}

// Entries copia de las transiciones registradas, en orden.
func (j *MemoryJournal) Entries() []JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]JournalEntry(nil), j.entries...)
}

// Pending última entrada de cada documento que quedó en Pending o CancelPending.
func (j *MemoryJournal) Pending(_ context.Context, limit int) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	last := map[string]JournalEntry{}
	var order []string
	for _, e := range j.entries {
		if _, ok := last[e.DocumentKey]; !ok {
			order = append(order, e.DocumentKey)
		}
		last[e.DocumentKey] = e
	}
	var out []JournalEntry
	for _, k := range order {
		e := last[k]
		if e.To != cfdi.StatePending && e.To != cfdi.StateCancelPending {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}
