package service

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joeblew999/plat-mapstyle/internal/journal"
	"github.com/joeblew999/plat-mapstyle/internal/stylefile"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

const transitDoc = `
style:
  uri: mapbox://styles/mapbox/standard
configuration:
  - import: basemap
    config:
      lightPreset: night
sources:
  - id: stops
    type: geojson
    data: stops.geojson
layers:
  - id: stops
    type: circle
    source: stops
    position:
      below: road-label
`

func startService(t *testing.T, cfg Config) *StyleService {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t).Sugar()
	}
	svc, err := NewStyleService(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		svc.Close()
	})
	return svc
}

func transitFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transit.yaml"), []byte(transitDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stops.geojson"),
		[]byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
	return filepath.Join(dir, "transit.yaml")
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStyleService(t *testing.T) {
	t.Run("applies a document", func(t *testing.T) {
		j, err := journal.Open(journal.Config{})
		require.NoError(t, err)
		defer j.Close()

		svc := startService(t, Config{Journal: j})
		events := svc.Events().Subscribe()
		defer svc.Events().Unsubscribe(events)

		ctx := ctxTimeout(t)
		doc, err := svc.LoadFile(transitFile(t))
		require.NoError(t, err)
		require.NoError(t, svc.Apply(ctx, doc))

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "loaded", status.Phase)
		assert.Equal(t, "mapbox://styles/mapbox/standard", status.Style)
		assert.True(t, status.Loaded)
		assert.Equal(t, []string{"land", "water", "road", "middle", "stops", "road-label", "top"}, status.Layers)
		assert.Contains(t, status.Sources, "stops")
		assert.Equal(t, 2, status.Mounted)

		snap, err := svc.Snapshot(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, snap.Imports)
		assert.Equal(t, "night", snap.Imports[0].Config["lightPreset"])

		current, ok := svc.Document()
		require.True(t, ok)
		assert.Same(t, doc, current)

		var kinds []string
		for len(kinds) < 4 {
			select {
			case e := <-events:
				kinds = append(kinds, e.Kind)
			case <-ctx.Done():
				t.Fatalf("events so far: %v", kinds)
			}
		}
		assert.Equal(t, []string{
			string(stylemanager.EventLoadStarted),
			string(stylemanager.EventLayersReady),
			string(stylemanager.EventReconciled),
			string(stylemanager.EventLoadCompleted),
		}, kinds)

		assert.Eventually(t, func() bool {
			snap, err := svc.Snapshot(ctx)
			if err != nil {
				return false
			}
			for _, src := range snap.Sources {
				if src.ID == "stops" {
					return src.HasData
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)

		res, err := j.Query(ctx, "SELECT count(*) AS n FROM engine_ops WHERE category = 'layer' AND id = 'stops'")
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Rows[0]["n"])
		res, err = j.Query(ctx, "SELECT kind FROM style_events ORDER BY seq")
		require.NoError(t, err)
		assert.Len(t, res.Rows, 4)
	})

	t.Run("journal write failures are logged", func(t *testing.T) {
		j, err := journal.Open(journal.Config{})
		require.NoError(t, err)
		require.NoError(t, j.Close())

		core, logs := observer.New(zap.WarnLevel)
		svc := startService(t, Config{Journal: j, Logger: zap.New(core).Sugar()})
		ctx := ctxTimeout(t)
		doc, err := svc.LoadFile(transitFile(t))
		require.NoError(t, err)
		require.NoError(t, svc.Apply(ctx, doc))

		assert.NotZero(t, logs.FilterMessage("failed to journal engine operation").Len())
		assert.Eventually(t, func() bool {
			return logs.FilterMessage("failed to journal style event").Len() > 0
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("document is recorded with the load it starts", func(t *testing.T) {
		svc := startService(t, Config{})
		doc, err := svc.LoadFile(transitFile(t))
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_ = svc.Apply(cancelled, doc)

		ctx := ctxTimeout(t)
		status, err := svc.Status(ctx)
		require.NoError(t, err)
		current, ok := svc.Document()
		if status.Phase == string(stylemanager.PhaseIdle) {
			assert.False(t, ok)
			return
		}
		require.True(t, ok)
		assert.Same(t, doc, current)
	})

	t.Run("reload", func(t *testing.T) {
		svc := startService(t, Config{})
		ctx := ctxTimeout(t)
		assert.ErrorIs(t, svc.Reload(ctx), ErrNoDocument)

		doc, err := svc.LoadFile(transitFile(t))
		require.NoError(t, err)
		require.NoError(t, svc.Apply(ctx, doc))
		require.NoError(t, svc.Reload(ctx))

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Contains(t, status.Layers, "stops")
	})

	t.Run("unknown style", func(t *testing.T) {
		svc := startService(t, Config{})
		ctx := ctxTimeout(t)
		doc, err := stylefile.Parse([]byte("style:\n  uri: mapbox://styles/nobody/nothing\n"), "")
		require.NoError(t, err)
		assert.ErrorContains(t, svc.Apply(ctx, doc), "style not found")

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "idle", status.Phase)
		assert.Empty(t, status.Style)
	})

	t.Run("local styles", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "styles"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "styles", "plain.json"),
			[]byte(`{"layers": [{"id": "paper", "type": "background"}]}`), 0o644))

		svc := startService(t, Config{DataDir: dir})
		assert.Contains(t, svc.Styles(), "local://plain")
		assert.Contains(t, svc.Styles(), "mapbox://styles/mapbox/standard")
		ctx := ctxTimeout(t)
		doc, err := stylefile.Parse([]byte("style:\n  uri: local://plain\n"), "")
		require.NoError(t, err)
		require.NoError(t, svc.Apply(ctx, doc))

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"paper"}, status.Layers)
	})

	t.Run("watch", func(t *testing.T) {
		svc := startService(t, Config{})
		path := transitFile(t)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Watch(ctx, path, stylefile.WithDebounce(20*time.Millisecond)) }()

		hasLayer := func(id string) func() bool {
			return func() bool {
				status, err := svc.Status(context.Background())
				return err == nil && slices.Contains(status.Layers, id)
			}
		}
		assert.Eventually(t, hasLayer("stops"), 5*time.Second, 10*time.Millisecond)

		require.NoError(t, os.WriteFile(path, []byte(`
style:
  uri: mapbox://styles/mapbox/standard
layers:
  - id: halo
    type: background
`), 0o644))
		assert.Eventually(t, hasLayer("halo"), 5*time.Second, 10*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
		status, err := svc.Status(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, status.Layers, "stops")
	})
}
