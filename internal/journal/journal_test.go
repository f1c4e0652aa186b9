package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mapstyle/internal/engine/memory"
	"github.com/joeblew999/plat-mapstyle/internal/reconcile"
	"github.com/joeblew999/plat-mapstyle/internal/style"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

func TestJournal(t *testing.T) {
	ctx := context.Background()

	t.Run("records ops and events", func(t *testing.T) {
		j, err := Open(Config{})
		require.NoError(t, err)
		defer j.Close()

		require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "layer", Name: "add", ID: "roads"}))
		require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "source", Name: "remove", ID: "s", Err: errors.New("source is in use")}))
		require.NoError(t, j.RecordEvent(ctx, stylemanager.Event{
			Kind:      stylemanager.EventReconciled,
			RequestID: uuid.New(),
			Identity:  style.URI("mapbox://styles/streets"),
			Phase:     stylemanager.PhaseLoading,
			Report:    &reconcile.Report{Operations: make([]reconcile.Operation, 3)},
		}))

		res, err := j.Query(ctx, "SELECT seq, op, id, error FROM engine_ops ORDER BY seq")
		require.NoError(t, err)
		assert.Equal(t, []string{"seq", "op", "id", "error"}, res.Columns)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "add", res.Rows[0]["op"])
		assert.Nil(t, res.Rows[0]["error"])
		assert.Equal(t, "source is in use", res.Rows[1]["error"])

		res, err = j.Query(ctx, "SELECT kind, style, operations FROM style_events")
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "reconciled", res.Rows[0]["kind"])
		assert.Equal(t, "mapbox://styles/streets", res.Rows[0]["style"])
		assert.EqualValues(t, 3, res.Rows[0]["operations"])

		tables, err := j.Tables(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"engine_ops", "style_events"}, tables)
	})

	t.Run("pages through ops", func(t *testing.T) {
		j, err := Open(Config{})
		require.NoError(t, err)
		defer j.Close()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "layer", Name: "add", ID: id}))
		}
		require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "layer", Name: "remove", ID: "x", Err: errors.New("unknown layer")}))

		ops, total, err := j.Ops(ctx, 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, ops, 2)
		assert.Equal(t, "c", ops[0].ID)
		assert.Empty(t, ops[0].Error)
		assert.Equal(t, "remove", ops[1].Op)
		assert.Equal(t, "unknown layer", ops[1].Error)
		assert.Greater(t, ops[1].Seq, ops[0].Seq)
	})

	t.Run("bad query", func(t *testing.T) {
		j, err := Open(Config{})
		require.NoError(t, err)
		defer j.Close()
		_, err = j.Query(ctx, "SELECT * FROM nope")
		assert.Error(t, err)
	})

	t.Run("file backed journal continues its sequence", func(t *testing.T) {
		dir := t.TempDir()
		j, err := Open(Config{DataDir: dir, DBName: "session"})
		require.NoError(t, err)
		require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "layer", Name: "add", ID: "a"}))
		require.NoError(t, j.Close())

		j, err = Open(Config{DataDir: dir, DBName: "session"})
		require.NoError(t, err)
		defer j.Close()
		require.NoError(t, j.RecordOp(ctx, memory.Op{Category: "layer", Name: "add", ID: "b"}))

		res, err := j.Query(ctx, "SELECT max(seq) AS last FROM engine_ops")
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Rows[0]["last"])
	})

	t.Run("shared instance", func(t *testing.T) {
		t.Cleanup(func() { _ = Reset() })
		a, err := Get(Config{})
		require.NoError(t, err)
		b, err := Get(Config{DataDir: t.TempDir()})
		require.NoError(t, err)
		assert.Same(t, a, b)

		require.NoError(t, Reset())
		c, err := Get(Config{})
		require.NoError(t, err)
		assert.NotSame(t, a, c)
	})
}
