package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/repository"
)

func newBadger(t *testing.T) *repository.BadgerRepository {
	t.Helper()
	repo, err := repository.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBadgerChatStore(t *testing.T) {
	exerciseChatStore(t, newBadger(t))
}

func TestBadgerUsage(t *testing.T) {
	exerciseUsage(t, newBadger(t))
}

func TestBadgerApps(t *testing.T) {
	ctx := context.Background()
	repo := newBadger(t)

	_, err := repo.GetApp(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	app := &flowchat.App{
		ID:    "faq",
		Name:  "FAQ",
		Nodes: []flowchat.Node{{ID: "start", Type: flowchat.NodeTypeWorkflowStart, IsEntry: true}},
	}
	require.NoError(t, repo.SaveApp(ctx, app))

	got, err := repo.GetApp(ctx, "faq")
	require.NoError(t, err)
	assert.Equal(t, app, got)

	apps, err := repo.ListApps(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestBadgerClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := newBadger(t)
	require.NoError(t, repo.SaveTurn(ctx, pausedTurn("c1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ClaimInteractive(ctx, "app-1", "c1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
