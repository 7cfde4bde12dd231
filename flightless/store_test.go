package flightless

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestShelf = errors.New("shelf unavailable")

// memoryShelf keeps the last saved snapshot in memory. Setting saveErr
// makes every Save fail without changing what Load returns.
type memoryShelf struct {
	mu      sync.Mutex
	saved   Snapshot
	saves   int
	saveErr error
	loadErr error
	closed  bool
}

func newMemoryShelf() *memoryShelf {
	return &memoryShelf{saved: NewSnapshot()}
}

func copySnapshot(s Snapshot) Snapshot {
	c := NewSnapshot()
	for name, t := range s.Tags {
		c.Tags[name] = t.clone()
	}
	for name, target := range s.Aliases {
		c.Aliases[name] = target
	}
	return c
}

func (m *memoryShelf) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return Snapshot{}, m.loadErr
	}
	return copySnapshot(m.saved), nil
}

func (m *memoryShelf) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = copySnapshot(s)
	m.saves++
	return nil
}

func (m *memoryShelf) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryShelf) Saved() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.saved)
}

func (m *memoryShelf) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memoryShelf) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func setupTestShelf(t testing.TB, dbType string) Shelf {
	t.Helper()
	ctx := context.Background()
	tmpdir := t.TempDir()

	switch dbType {
	case dbTypeBolt:
		shelf, err := OpenBoltShelf(filepath.Join(tmpdir, "nested", "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = shelf.Close() })
		return shelf
	default:
		db, err := CreateDB(
			ctx,
			dbTypeSQLite,
			filepath.Join(tmpdir, "test.sqlite3"),
			slog.LevelWarn,
			0,
		)
		require.NoError(t, err)
		shelf := NewGormShelf(db)
		t.Cleanup(func() { _ = shelf.Close() })
		return shelf
	}
}

func testSnapshot() Snapshot {
	s := NewSnapshot()
	s.Tags["greet"] = &Tag{
		Name:      "greet",
		OwnerID:   "42",
		Reply:     stringPointer("Hello there!"),
		CreatedAt: testNow.UnixMilli(),
	}
	s.Tags["pic"] = &Tag{
		Name:      "pic",
		OwnerID:   "7",
		Reply:     stringPointer("look"),
		ImageURL:  stringPointer("https://example.com/a.png"),
		CreatedAt: testNow.UnixMilli(),
	}
	s.Aliases["hi"] = "greet"
	s.Aliases["commands"] = "tags"
	return s
}

func TestShelves(t *testing.T) {
	for _, dbType := range []string{dbTypeSQLite, dbTypeBolt} {
		t.Run(
			dbType, func(t *testing.T) {
				ctx := context.Background()
				shelf := setupTestShelf(t, dbType)

				empty, err := shelf.Load(ctx)
				require.NoError(t, err)
				assert.Empty(t, empty.Tags)
				assert.Empty(t, empty.Aliases)
				assert.NotNil(t, empty.Tags)
				assert.NotNil(t, empty.Aliases)

				want := testSnapshot()
				require.NoError(t, shelf.Save(ctx, want))

				got, err := shelf.Load(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, got)

				// a save fully replaces the previous state
				next := copySnapshot(want)
				delete(next.Tags, "pic")
				delete(next.Aliases, "hi")
				next.Tags["greet"].Reply = stringPointer("Hi!")
				require.NoError(t, shelf.Save(ctx, next))

				got, err = shelf.Load(ctx)
				require.NoError(t, err)
				assert.Equal(t, next, got)
				assert.NotContains(t, got.Tags, "pic")
				assert.Equal(t, map[string]string{"commands": "tags"}, got.Aliases)

				require.NoError(t, shelf.Save(ctx, NewSnapshot()))
				got, err = shelf.Load(ctx)
				require.NoError(t, err)
				assert.Empty(t, got.Tags)
				assert.Empty(t, got.Aliases)
			},
		)
	}
}

func TestOpenShelf(t *testing.T) {
	ctx := context.Background()

	t.Run(
		"bolt", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			cfg.DatabaseType = dbTypeBolt
			cfg.Database = filepath.Join(t.TempDir(), "flightless.db")

			shelf, err := OpenShelf(ctx, cfg)
			require.NoError(t, err)
			require.NoError(t, shelf.Save(ctx, testSnapshot()))
			require.NoError(t, shelf.Close())

			// reopening sees the saved state
			shelf, err = OpenShelf(ctx, cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = shelf.Close() })
			s, err := shelf.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, s.Tags, 2)
			assert.Equal(t, "greet", s.Aliases["hi"])
		},
	)

	t.Run(
		"sqlite", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			shelf, err := OpenShelf(ctx, cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = shelf.Close() })
			assert.FileExists(t, cfg.Database)
		},
	)

	t.Run(
		"unsupported", func(t *testing.T) {
			cfg := DefaultTestConfig(t)
			cfg.DatabaseType = "mysql"
			_, err := OpenShelf(ctx, cfg)
			assert.Error(t, err)
		},
	)
}

func TestBoltShelf_SaveCancelled(t *testing.T) {
	shelf := setupTestShelf(t, dbTypeBolt)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := shelf.Save(ctx, testSnapshot())
	assert.ErrorIs(t, err, context.Canceled)

	s, err := shelf.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Tags)
}
