package flightless

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boltdb/bolt"
	"gorm.io/gorm"
)

// Shelf is durable storage for tags and aliases. Load returns the full
// state; Save replaces it, atomically across both tables.
type Shelf interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// OpenShelf opens the shelf configured by cfg.DatabaseType
func OpenShelf(ctx context.Context, cfg *Config) (Shelf, error) {
	switch cfg.DatabaseType {
	case dbTypeBolt:
		return OpenBoltShelf(cfg.Database)
	case dbTypeSQLite, dbTypePostgres:
		var level slog.Leveler
		if cfg.DatabaseLogLevel != nil {
			level = cfg.DatabaseLogLevel
		}
		db, err := CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
			level,
			cfg.DatabaseSlowThreshold,
		)
		if err != nil {
			return nil, err
		}
		return NewGormShelf(db), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.DatabaseType)
	}
}

// gormShelf stores tags and aliases in two SQL tables. Save rewrites
// both inside one transaction.
type gormShelf struct {
	db *database
}

func NewGormShelf(db *gorm.DB) Shelf {
	return &gormShelf{db: newDatabase(db, nil, false)}
}

func (g *gormShelf) Load(ctx context.Context) (Snapshot, error) {
	var tags []Tag
	if err := g.db.Find(ctx, &tags); err != nil {
		return Snapshot{}, fmt.Errorf("error loading tags: %w", err)
	}
	var aliases []Alias
	if err := g.db.Find(ctx, &aliases); err != nil {
		return Snapshot{}, fmt.Errorf("error loading aliases: %w", err)
	}

	s := NewSnapshot()
	for i := range tags {
		t := tags[i]
		s.Tags[t.Name] = &t
	}
	for _, a := range aliases {
		s.Aliases[a.Name] = a.Target
	}
	return s, nil
}

func (g *gormShelf) Save(ctx context.Context, s Snapshot) error {
	tags := make([]Tag, 0, len(s.Tags))
	for _, name := range s.TagNames() {
		tags = append(tags, *s.Tags[name])
	}
	aliases := s.AliasList()

	return g.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
			if err := tx.Delete(&Alias{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&Tag{}).Error; err != nil {
				return err
			}
			if len(tags) > 0 {
				if err := tx.CreateInBatches(tags, 100).Error; err != nil {
					return err
				}
			}
			if len(aliases) > 0 {
				if err := tx.CreateInBatches(aliases, 100).Error; err != nil {
					return err
				}
			}
			return nil
		},
	)
}

func (g *gormShelf) Close() error {
	return g.db.Close()
}

var (
	boltBucket      = []byte("flightless")
	boltSnapshotKey = []byte("shelf")
	boltOpenTimeout = 5 * time.Second
)

var errBoltKeyNotFound = errors.New("bolt: key not found")

// boltShelf keeps the whole snapshot gob-encoded under a single key of
// an embedded bolt file, so every Save is one atomic write.
type boltShelf struct {
	db *bolt.DB
}

func OpenBoltShelf(path string) (Shelf, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	err = db.Update(
		func(tx *bolt.Tx) error {
			_, e := tx.CreateBucketIfNotExists(boltBucket)
			return e
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltShelf{db: db}, nil
}

func (b *boltShelf) get(key []byte, value any) error {
	return b.db.View(
		func(tx *bolt.Tx) error {
			data := tx.Bucket(boltBucket).Get(key)
			if data == nil {
				return errBoltKeyNotFound
			}
			return gob.NewDecoder(bytes.NewReader(data)).Decode(value)
		},
	)
}

func (b *boltShelf) put(key []byte, value any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return err
	}
	return b.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(boltBucket).Put(key, buf.Bytes())
		},
	)
}

func (b *boltShelf) Load(_ context.Context) (Snapshot, error) {
	var s Snapshot
	err := b.get(boltSnapshotKey, &s)
	switch {
	case errors.Is(err, errBoltKeyNotFound):
		return NewSnapshot(), nil
	case err != nil:
		return Snapshot{}, fmt.Errorf("error loading snapshot: %w", err)
	}
	s.normalize()
	return s, nil
}

func (b *boltShelf) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.put(boltSnapshotKey, s)
}

func (b *boltShelf) Close() error {
	return b.db.Close()
}
