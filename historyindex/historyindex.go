// Package historyindex maintains a durable, queryable audit trail of every
// decided PUT: for each key, the ordered list of values it has ever held.
// It subscribes to decide events; a failed index write is logged and never
// fails the decide that emitted it. Handlers run synchronously inside
// events.Emitter.Emit, so a slow write delays that decide.
package historyindex

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/events"
)

const keyPrefix = "history:"

// entry is one recorded write, in the order it was decided.
type entry struct {
	Depth int    `json:"depth"`
	Value string `json:"value"`
}

// Index is a LevelDB-backed append log of every decided PUT, keyed by the
// key that was written.
type Index struct {
	db *leveldb.DB
}

// Open opens (or creates) the LevelDB database at path and subscribes it
// to emitter's decide events.
func Open(path string, emitter *events.Emitter) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("historyindex: open %q: %w", path, err)
	}
	idx := &Index{db: db}
	emitter.Subscribe(events.EventOperationDecided, idx.onDecided)
	return idx, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func (idx *Index) onDecided(ev events.Event) {
	opRaw, ok := ev.Data["operation"].(chain.Operation)
	if !ok || opRaw.Op != chain.OpPut {
		return
	}
	if err := idx.append(opRaw.Key, ev.Depth, string(opRaw.Value)); err != nil {
		log.Printf("[historyindex] append failed (key=%s depth=%d): %v", opRaw.Key, ev.Depth, err)
	}
}

func (idx *Index) append(key string, depth int, value string) error {
	history, err := idx.getEntries(key)
	if err != nil {
		return err
	}
	history = append(history, entry{Depth: depth, Value: value})
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return idx.db.Put([]byte(keyPrefix+key), data, nil)
}

func (idx *Index) getEntries(key string) ([]entry, error) {
	data, err := idx.db.Get([]byte(keyPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []entry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("historyindex: unmarshal %s: %w", key, err)
	}
	return history, nil
}

// History returns the ordered list of values ever written to key, oldest
// first, or an empty slice if the key was never written.
func (idx *Index) History(key string) ([]string, error) {
	entries, err := idx.getEntries(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}
