package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"roomgraph/pkg/logger"

	"github.com/cockroachdb/pebble"
)

// Concurrent event creation can materialize two state groups with identical
// content. Groups are append-only and never deleted, so compaction reconciles
// by content instead: event->group links pointing at a duplicate group are
// rewritten to the lowest-id group with the same snapshot.

// DedupStateGroups scans all state groups, finds content-identical
// duplicates per room and rewrites event links to the canonical group.
// Returns the number of rewritten links and the affected rooms.
func DedupStateGroups() (int, []string, error) {
	if db == nil {
		return 0, nil, fmt.Errorf("pebble not opened; call store.Open first")
	}

	metas := make(map[int64]groupMeta)
	entries := make(map[int64][]string)

	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, nil, err
	}
	prefix := []byte("stategroup:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		rest := string(k[len(prefix):])
		i := strings.IndexByte(rest, ':')
		if i < 0 {
			continue
		}
		id, perr := strconv.ParseInt(rest[:i], 10, 64)
		if perr != nil {
			continue
		}
		switch {
		case rest[i+1:] == "meta":
			var m groupMeta
			if json.Unmarshal(iter.Value(), &m) == nil {
				metas[id] = m
			}
		case strings.HasPrefix(rest[i+1:], "entry:"):
			entry := rest[i+1+len("entry:"):] + "=" + string(iter.Value())
			entries[id] = append(entries[id], entry)
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, nil, err
	}
	_ = iter.Close()

	// Fingerprint each group by room plus its sorted entry set; the lowest
	// id per fingerprint is canonical.
	canonical := make(map[string]int64)
	fingerprints := make(map[int64]string, len(metas))
	for id, m := range metas {
		es := entries[id]
		sort.Strings(es)
		fp := m.RoomID + "\x00" + strings.Join(es, "\x00")
		fingerprints[id] = fp
		if cur, ok := canonical[fp]; !ok || id < cur {
			canonical[fp] = id
		}
	}
	remap := make(map[int64]int64)
	rooms := make(map[string]struct{})
	for id, fp := range fingerprints {
		if c := canonical[fp]; c != id {
			remap[id] = c
			rooms[metas[id].RoomID] = struct{}{}
		}
	}
	if len(remap) == 0 {
		return 0, nil, nil
	}

	batch := db.NewBatch()
	rewritten := 0
	linkIter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, nil, err
	}
	linkPrefix := []byte("eventgroup:")
	for linkIter.SeekGE(linkPrefix); linkIter.Valid(); linkIter.Next() {
		k := linkIter.Key()
		if !bytes.HasPrefix(k, linkPrefix) {
			break
		}
		id, perr := strconv.ParseInt(string(linkIter.Value()), 10, 64)
		if perr != nil {
			continue
		}
		c, ok := remap[id]
		if !ok {
			continue
		}
		key := append([]byte(nil), k...)
		if err := batch.Set(key, []byte(strconv.FormatInt(c, 10)), nil); err != nil {
			_ = linkIter.Close()
			_ = batch.Close()
			return 0, nil, err
		}
		rewritten++
	}
	if err := linkIter.Error(); err != nil {
		_ = linkIter.Close()
		_ = batch.Close()
		return 0, nil, err
	}
	_ = linkIter.Close()

	if err := db.Apply(batch, pebble.Sync); err != nil {
		return 0, nil, err
	}
	out := make([]string, 0, len(rooms))
	for r := range rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	logger.Info("state_groups_deduped", "duplicates", len(remap), "links_rewritten", rewritten)
	return rewritten, out, nil
}
