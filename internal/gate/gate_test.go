package gate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"requestdesk/internal/database"
	"requestdesk/internal/models"
	"requestdesk/internal/observability"
	"requestdesk/internal/platform"
	"requestdesk/internal/repository"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGate(t *testing.T, limit int) (*Gate, repository.RequestRepository, *platform.Memory, *platform.Channels) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mem := platform.NewMemory()
	mem.AddChannel("request-submission")
	mem.AddChannel("open-requests")
	mem.AddChannel("request-talk")
	mem.AddRole("Members")

	channels, err := platform.ResolveChannels(context.Background(), mem,
		"request-submission", "open-requests", "request-talk", "Members")
	require.NoError(t, err)

	repo := repository.NewRequestRepository(db)
	return New(repo, mem, channels, limit), repo, mem, channels
}

func addPending(t *testing.T, repo repository.RequestRepository, n int, donator bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), &models.Request{
			Title:   fmt.Sprintf("OST %d %v", i, donator),
			UserID:  fmt.Sprintf("%d-%v", i, donator),
			UserTag: "user#0001",
			Donator: donator,
			State:   models.RequestStatePending,
		}))
	}
}

func noticeCount(mem *platform.Memory, ch platform.ChannelID, content string) int {
	n := 0
	for _, m := range mem.ChannelMessages(ch) {
		if m.Content == content {
			n++
		}
	}
	return n
}

func TestRecheck_ClosesAtLimitOnce(t *testing.T) {
	g, repo, mem, channels := newTestGate(t, 20)
	ctx := context.Background()

	addPending(t, repo, 19, false)
	require.NoError(t, g.Recheck(ctx))

	allowed, err := mem.GetRolePermission(ctx, channels.Submission, channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.True(t, allowed, "19 pending stays under a limit of 20")

	addPending(t, repo, 1, false)
	require.NoError(t, g.Recheck(ctx))

	allowed, err = mem.GetRolePermission(ctx, channels.Submission, channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 1, noticeCount(mem, channels.Submission, "Requests closed"))

	// Re-running at the same load announces nothing new.
	require.NoError(t, g.Recheck(ctx))
	require.NoError(t, g.Recheck(ctx))
	assert.Equal(t, 1, noticeCount(mem, channels.Submission, "Requests closed"))
}

func TestRecheck_DonatorsDoNotCount(t *testing.T) {
	g, repo, mem, channels := newTestGate(t, 5)
	ctx := context.Background()

	addPending(t, repo, 10, true)
	addPending(t, repo, 4, false)
	require.NoError(t, g.Recheck(ctx))

	allowed, err := mem.GetRolePermission(ctx, channels.Submission, channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.True(t, allowed)

	count, err := g.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestRecheck_ReopensBelowLimit(t *testing.T) {
	g, repo, mem, channels := newTestGate(t, 2)
	ctx := context.Background()

	addPending(t, repo, 2, false)
	require.NoError(t, g.Recheck(ctx))
	assert.Equal(t, 1, noticeCount(mem, channels.Submission, "Requests closed"))

	// Free one slot.
	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	open[0].State = models.RequestStateComplete
	require.NoError(t, repo.Save(ctx, &open[0]))

	require.NoError(t, g.Recheck(ctx))
	allowed, err := mem.GetRolePermission(ctx, channels.Submission, channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, noticeCount(mem, channels.Submission, "Requests open"))
}

func TestRecheck_PlatformFailurePropagates(t *testing.T) {
	g, repo, mem, _ := newTestGate(t, 1)
	ctx := context.Background()

	addPending(t, repo, 1, false)
	mem.FailNextSend()

	err := g.Recheck(ctx)
	require.Error(t, err)
}

func TestFull(t *testing.T) {
	g, repo, _, _ := newTestGate(t, 3)
	ctx := context.Background()

	full, err := g.Full(ctx)
	require.NoError(t, err)
	assert.False(t, full)

	addPending(t, repo, 3, false)
	full, err = g.Full(ctx)
	require.NoError(t, err)
	assert.True(t, full)
}

func TestRecheck_GaugeTracksStateWithoutTransition(t *testing.T) {
	g, repo, _, _ := newTestGate(t, 3)
	ctx := context.Background()

	// Gate is already open; the recheck takes the no-op path but the gauge
	// must still report the current state.
	require.NoError(t, g.Recheck(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(observability.GateOpen))

	addPending(t, repo, 3, false)
	require.NoError(t, g.Recheck(ctx))
	assert.Equal(t, float64(0), testutil.ToFloat64(observability.GateOpen))

	// Repeat while closed: still the no-op path, still reported closed.
	require.NoError(t, g.Recheck(ctx))
	assert.Equal(t, float64(0), testutil.ToFloat64(observability.GateOpen))
}
