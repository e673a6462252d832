package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const archiveTimeLayout = "20060102T150405.000Z"

// ArchiveKinds are the report kinds the archive knows about.
var ArchiveKinds = []string{"migration", "validation", "rollback"}

// Archiver writes run results as JSON objects under
// <prefix>/<kind>/<timestamp>.json.
type Archiver struct {
	store  ObjectStorage
	prefix string
	now    func() time.Time
}

func NewArchiver(store ObjectStorage, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (a *Archiver) kindPrefix(kind string) string {
	return path.Join(a.prefix, kind)
}

// Archive stores v and returns its key.
func (a *Archiver) Archive(ctx context.Context, kind string, v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s archive: %w", kind, err)
	}

	key := path.Join(a.kindPrefix(kind), a.now().UTC().Format(archiveTimeLayout)+".json")
	if err := a.store.UploadObject(ctx, key, payload); err != nil {
		return "", err
	}
	log.Info().Str("key", key).Int("bytes", len(payload)).Msg("archived report")
	return key, nil
}

// List returns archived objects of one kind, or of every kind when kind is
// empty, newest first.
func (a *Archiver) List(ctx context.Context, kind string) ([]ObjectInfo, error) {
	kinds := ArchiveKinds
	if kind != "" {
		kinds = []string{kind}
	}

	out := make([]ObjectInfo, 0)
	for _, k := range kinds {
		objects, err := a.store.ListObjects(ctx, a.kindPrefix(k))
		if err != nil {
			return nil, err
		}
		out = append(out, objects...)
	}
	sort.Slice(out, func(i, j int) bool {
		return path.Base(out[i].Key) > path.Base(out[j].Key)
	})
	return out, nil
}

// Get reads one archived object. Keys outside the archive prefix are
// rejected.
func (a *Archiver) Get(ctx context.Context, key string) ([]byte, error) {
	clean := path.Clean("/" + key)[1:]
	if a.prefix != "" && !strings.HasPrefix(clean, a.prefix+"/") {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return a.store.GetObject(ctx, clean)
}
