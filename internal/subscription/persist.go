package subscription

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/subwatch/subwatch/internal/site"
)

// On-disk store layout. Destinations are keyed by their decimal id; latest
// ids are the browse cursor carried across restarts.
type storeFile struct {
	Destinations map[string]destEntry `json:"destinations"`
	LatestIDs    []string             `json:"latest_ids"`

	// Pre-destination-map layout: one flat list with per-entry destinations.
	LegacySubscriptions []legacySubEntry `json:"subscriptions,omitempty"`
}

type destEntry struct {
	Subscriptions []subEntry   `json:"subscriptions"`
	Blocklist     []blockEntry `json:"blocklist"`
}

type subEntry struct {
	Query        string  `json:"query"`
	LatestUpdate *string `json:"latest_update"`
	Paused       bool    `json:"paused,omitempty"`
}

type blockEntry struct {
	Query string `json:"query"`
}

type legacySubEntry struct {
	Query        string  `json:"query"`
	Destination  int64   `json:"destination"`
	LatestUpdate *string `json:"latest_update"`
}

// Load reads the store file, returning the live store and the persisted
// latest-id cursor. A missing file yields an empty store. Entries whose
// query no longer parses are dropped with a warning rather than failing the
// whole load.
func Load(path string) (*Store, []site.SubmissionID, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewStore(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load store %s: %w", path, err)
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("load store %s: %w", path, err)
	}

	store := NewStore()
	for destStr, entry := range file.Destinations {
		dest, err := strconv.ParseInt(destStr, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("load store %s: destination %q: %w", path, destStr, err)
		}
		for _, se := range entry.Subscriptions {
			loadSub(store, se, dest, path)
		}
		for _, be := range entry.Blocklist {
			if err := store.AddBlock(dest, be.Query); err != nil {
				log.Printf("subwatch[store]: dropping unparseable blocklist entry %q for %d: %v", be.Query, dest, err)
			}
		}
	}
	for _, le := range file.LegacySubscriptions {
		loadSub(store, subEntry{Query: le.Query, LatestUpdate: le.LatestUpdate}, le.Destination, path)
	}

	var latest []site.SubmissionID
	for _, idStr := range file.LatestIDs {
		id, err := site.ParseSubmissionID(idStr)
		if err != nil {
			return nil, nil, fmt.Errorf("load store %s: %w", path, err)
		}
		latest = append(latest, id)
	}
	return store, latest, nil
}

func loadSub(store *Store, se subEntry, dest int64, path string) {
	sub, err := New(se.Query, dest)
	if err != nil {
		log.Printf("subwatch[store]: dropping unparseable subscription %q for %d: %v", se.Query, dest, err)
		return
	}
	sub.Paused = se.Paused
	if se.LatestUpdate != nil {
		t, err := time.Parse(time.RFC3339, *se.LatestUpdate)
		if err != nil {
			log.Printf("subwatch[store]: bad latest_update on %q for %d: %v", se.Query, dest, err)
		} else {
			sub.LatestUpdate = t
		}
	}
	if err := store.Add(sub); err != nil {
		log.Printf("subwatch[store]: duplicate subscription %q for %d in %s", se.Query, dest, path)
	}
}

// Save writes the store and latest-id cursor atomically: marshal to a temp
// file in the same directory, then rename over the target.
func Save(path string, store *Store, latestIDs []site.SubmissionID) error {
	file := storeFile{
		Destinations: make(map[string]destEntry),
		LatestIDs:    make([]string, 0, len(latestIDs)),
	}
	for _, id := range latestIDs {
		file.LatestIDs = append(file.LatestIDs, id.String())
	}

	store.mu.Lock()
	for _, sub := range store.subs {
		destStr := strconv.FormatInt(sub.Destination, 10)
		entry := file.Destinations[destStr]
		se := subEntry{Query: sub.QueryStr, Paused: sub.Paused}
		if !sub.LatestUpdate.IsZero() {
			s := sub.LatestUpdate.Format(time.RFC3339)
			se.LatestUpdate = &s
		}
		entry.Subscriptions = append(entry.Subscriptions, se)
		file.Destinations[destStr] = entry
	}
	for dest, b := range store.blocklists {
		if b.Len() == 0 {
			continue
		}
		destStr := strconv.FormatInt(dest, 10)
		entry := file.Destinations[destStr]
		for _, q := range b.Queries() {
			entry.Blocklist = append(entry.Blocklist, blockEntry{Query: q})
		}
		file.Destinations[destStr] = entry
	}
	store.mu.Unlock()

	for _, entry := range file.Destinations {
		sort.Slice(entry.Subscriptions, func(i, j int) bool {
			return entry.Subscriptions[i].Query < entry.Subscriptions[j].Query
		})
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("save store %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".subwatch-store-*")
	if err != nil {
		return fmt.Errorf("save store %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save store %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save store %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save store %s: %w", path, err)
	}
	return nil
}
