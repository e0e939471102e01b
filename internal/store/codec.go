package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/atmx/paper-engine/internal/model"
)

// documentVersion is written into every encoded document.
const documentVersion = 1

// document is the on-disk envelope of a collection.
type document[T any] struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     T         `json:"items"`
}

type record interface {
	Validate() error
}

func encodeDocument[T any](items T) ([]byte, error) {
	return json.MarshalIndent(document[T]{
		Version:   documentVersion,
		UpdatedAt: time.Now().UTC(),
		Items:     items,
	}, "", "  ")
}

// decodeList decodes a list document. Corrupt documents read as empty and
// records failing validation are skipped; both are logged. clean is false
// when anything in data was discarded.
func decodeList[T record](data []byte, name string) (items []T, clean bool) {
	if len(data) == 0 {
		return nil, true
	}
	var doc document[[]T]
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("corrupt document, treating as empty", "doc", name, "err", err)
		return nil, false
	}
	valid, rejected := keepValid(doc.Items, name)
	return valid, len(rejected) == 0
}

// keepValid splits items into those passing validation and those that do
// not, logging each rejection.
func keepValid[T record](items []T, name string) (valid, rejected []T) {
	valid = make([]T, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			slog.Warn("skipping invalid record", "doc", name, "err", err)
			rejected = append(rejected, item)
			continue
		}
		valid = append(valid, item)
	}
	return valid, rejected
}

func decodeOverrides(data []byte) (overrides map[string]string, clean bool) {
	overrides = make(map[string]string)
	if len(data) == 0 {
		return overrides, true
	}
	var doc document[map[string]string]
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("corrupt document, treating as empty", "doc", DocOverrides, "err", err)
		return overrides, false
	}
	clean = true
	for slug, narrative := range doc.Items {
		if slug == "" || narrative == "" {
			slog.Warn("skipping invalid record", "doc", DocOverrides, "slug", slug)
			clean = false
			continue
		}
		overrides[slug] = narrative
	}
	return overrides, clean
}

// keepRejected stores the raw bytes of a document that lost records while
// loading, under a name derived from its content. The next save rewrites
// the document without those records; the copy is what remains of them.
func keepRejected(ctx context.Context, blobs blobStore, name string, data []byte) error {
	copyName := fmt.Sprintf("%s.rejected-%016x", name, xxhash.Sum64(data))
	existing, err := blobs.get(ctx, copyName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := blobs.put(ctx, copyName, data); err != nil {
		return fmt.Errorf("keep rejected %s: %w", name, err)
	}
	slog.Warn("rejected records kept aside", "doc", name, "copy", copyName)
	return nil
}

func loadList[T record](ctx context.Context, blobs blobStore, name string) ([]T, error) {
	data, err := blobs.get(ctx, name)
	if err != nil {
		return nil, err
	}
	items, clean := decodeList[T](data, name)
	if !clean {
		if err := keepRejected(ctx, blobs, name, data); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// blobStore is a backend that can read and write raw documents by name.
// get returns (nil, nil) when the document does not exist.
type blobStore interface {
	get(ctx context.Context, name string) ([]byte, error)
	put(ctx context.Context, name string, data []byte) error
}

// documentStore implements Store on top of any blobStore.
type documentStore struct {
	blobs blobStore
}

func (s documentStore) LoadOverrides(ctx context.Context) (map[string]string, error) {
	data, err := s.blobs.get(ctx, DocOverrides)
	if err != nil {
		return nil, err
	}
	overrides, clean := decodeOverrides(data)
	if !clean {
		if err := keepRejected(ctx, s.blobs, DocOverrides, data); err != nil {
			return nil, err
		}
	}
	return overrides, nil
}

func (s documentStore) SaveOverrides(ctx context.Context, overrides map[string]string) error {
	return saveDocument(ctx, s.blobs, DocOverrides, overrides)
}

func (s documentStore) LoadTrades(ctx context.Context) ([]model.Trade, error) {
	return loadList[model.Trade](ctx, s.blobs, DocTrades)
}

func (s documentStore) SaveTrades(ctx context.Context, trades []model.Trade) error {
	return saveDocument(ctx, s.blobs, DocTrades, trades)
}

func (s documentStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	return loadList[model.Position](ctx, s.blobs, DocPositions)
}

func (s documentStore) SavePositions(ctx context.Context, positions []model.Position) error {
	return saveDocument(ctx, s.blobs, DocPositions, positions)
}

func (s documentStore) LoadNews(ctx context.Context) ([]model.NewsEvent, error) {
	return loadList[model.NewsEvent](ctx, s.blobs, DocNews)
}

func (s documentStore) SaveNews(ctx context.Context, events []model.NewsEvent) error {
	return saveDocument(ctx, s.blobs, DocNews, events)
}

func saveDocument[T any](ctx context.Context, blobs blobStore, name string, items T) error {
	data, err := encodeDocument(items)
	if err != nil {
		return err
	}
	return blobs.put(ctx, name, data)
}
