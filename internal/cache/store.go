package cache

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/steemit/redsky/internal/models"
)

// Store aggregates every UI-side cache together with the keys of the detail
// views that are currently open
type Store struct {
	Images    *ImageTable
	Profiles  *Table[string, models.UserProfile]
	UserPosts *Table[string, []models.Post]
	Threads   *Table[models.ContentRef, models.Thread]
	Likers    *Table[models.ContentRef, []models.UserProfile]

	OpenProfiles mapset.Set[string]
	OpenThreads  mapset.Set[models.ContentRef]
	OpenLikers   mapset.Set[models.ContentRef]
	OpenImages   mapset.Set[string]

	// Visible holds the image URIs the last render showed
	Visible mapset.Set[string]
}

// NewStore creates an empty store. imageBudget bounds the loaded image bytes;
// zero means unbounded. Images shown in an open full-size view or in the last
// rendered frame are pinned, so the budget can be exceeded while they are on
// screen.
func NewStore(imageBudget int64) *Store {
	s := &Store{
		Profiles:  NewTable[string, models.UserProfile](),
		UserPosts: NewTable[string, []models.Post](),
		Threads:   NewTable[models.ContentRef, models.Thread](),
		Likers:    NewTable[models.ContentRef, []models.UserProfile](),

		OpenProfiles: mapset.NewThreadUnsafeSet[string](),
		OpenThreads:  mapset.NewThreadUnsafeSet[models.ContentRef](),
		OpenLikers:   mapset.NewThreadUnsafeSet[models.ContentRef](),
		OpenImages:   mapset.NewThreadUnsafeSet[string](),
		Visible:      mapset.NewThreadUnsafeSet[string](),
	}
	s.Images = NewImageTable(imageBudget, func(uri string) bool {
		return s.OpenImages.Contains(uri) || s.Visible.Contains(uri)
	})
	return s
}

// TableStats summarises one table
type TableStats struct {
	Entries int            `json:"entries"`
	States  map[string]int `json:"states"`
}

// Stats summarises the whole store
type Stats struct {
	Images       TableStats `json:"images"`
	ImageBytes   int64      `json:"image_bytes"`
	Profiles     TableStats `json:"profiles"`
	UserPosts    TableStats `json:"user_posts"`
	Threads      TableStats `json:"threads"`
	Likers       TableStats `json:"likers"`
	OpenProfiles int        `json:"open_profiles"`
	OpenThreads  int        `json:"open_threads"`
	OpenLikers   int        `json:"open_likers"`
	OpenImages   int        `json:"open_images"`
	Visible      int        `json:"visible_images"`
}

// Stats returns per-table entry counts
func (s *Store) Stats() Stats {
	return Stats{
		Images:       TableStats{Entries: s.Images.Len(), States: s.Images.Counts()},
		ImageBytes:   s.Images.LoadedBytes(),
		Profiles:     TableStats{Entries: s.Profiles.Len(), States: s.Profiles.Counts()},
		UserPosts:    TableStats{Entries: s.UserPosts.Len(), States: s.UserPosts.Counts()},
		Threads:      TableStats{Entries: s.Threads.Len(), States: s.Threads.Counts()},
		Likers:       TableStats{Entries: s.Likers.Len(), States: s.Likers.Counts()},
		OpenProfiles: s.OpenProfiles.Cardinality(),
		OpenThreads:  s.OpenThreads.Cardinality(),
		OpenLikers:   s.OpenLikers.Cardinality(),
		OpenImages:   s.OpenImages.Cardinality(),
		Visible:      s.Visible.Cardinality(),
	}
}
