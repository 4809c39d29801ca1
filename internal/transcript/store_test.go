package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/parley/internal/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendListOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	first := history.NewTurn(history.RoleUser, "hello")
	second := history.NewTurn(history.RoleAssistant, "hi, how can I help?")
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	turns, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, first.ID, turns[0].ID)
	require.Equal(t, history.RoleAssistant, turns[1].Role)
	require.Equal(t, "hi, how can I help?", turns[1].Content)
	require.Equal(t, first.CreatedAt.UnixMilli(), turns[0].CreatedAt.UnixMilli())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestAppendRejectsInvalidTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	require.Error(t, s.Append(ctx, history.Turn{ID: "x", Role: "system"}))
	require.Error(t, s.Append(ctx, history.Turn{Role: history.RoleUser}))

	dup := history.NewTurn(history.RoleUser, "once")
	require.NoError(t, s.Append(ctx, dup))
	require.Error(t, s.Append(ctx, dup), "ids are unique")
}

func TestClearAndReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, history.NewTurn(history.RoleUser, "q")))
	require.NoError(t, s.Append(ctx, history.NewTurn(history.RoleAssistant, "a")))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	log := history.NewLog()
	n, err := reopened.Replay(ctx, log)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "a", log.Turns()[1].Content)

	require.NoError(t, reopened.Clear(ctx))
	turns, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(ctx, history.NewTurn(history.RoleUser, "ephemeral")))
	turns, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}
