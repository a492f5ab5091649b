package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"requestdesk/internal/database"
	"requestdesk/internal/gate"
	"requestdesk/internal/listing"
	"requestdesk/internal/metadata"
	"requestdesk/internal/models"
	"requestdesk/internal/notify"
	"requestdesk/internal/platform"
	"requestdesk/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	svc      *RequestService
	repo     repository.RequestRepository
	mem      *platform.Memory
	channels *platform.Channels
	gate     *gate.Gate
	db       *gorm.DB
}

func newFixture(t *testing.T, limit int, resolver *metadata.Resolver) *fixture {
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
	var covers listing.CoverSource
	if resolver != nil {
		covers = resolver
	}
	publisher := listing.NewPublisher(mem, channels, covers)
	g := gate.New(repo, mem, channels, limit)
	notifier := notify.New(mem, channels, "maintainer-1")

	return &fixture{
		svc:      NewRequestService(db, repo, publisher, g, notifier, resolver),
		repo:     repo,
		mem:      mem,
		channels: channels,
		gate:     g,
		db:       db,
	}
}

func countContent(msgs []platform.Message, content string) int {
	n := 0
	for _, m := range msgs {
		if m.Content == content {
			n++
		}
	}
	return n
}

func TestSubmit_CreatesPendingRequestWithListing(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{
		UserID:  "100",
		UserTag: "alice#0001",
		Text:    "Chrono Trigger OST https://example.com/ct",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatePending, req.State)
	assert.Equal(t, "Chrono Trigger OST", req.Title)
	assert.Equal(t, "https://example.com/ct", req.Link)
	assert.NotEmpty(t, req.ListingRef)

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ListingRef, stored.ListingRef)

	msgs := f.mem.ChannelMessages(f.channels.Listing)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Embed)
	assert.Contains(t, msgs[0].Embed.Fields[0].Value, "Chrono Trigger OST")
}

func TestSubmit_InputValidation(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		text    string
		message string
	}{
		{"empty text", "   ", "Please provide a url or name"},
		{"two urls", "https://a.example.com https://b.example.com", "You can only specify one url per request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: tt.text})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSubmit_OutstandingRequestBlocksNonDonator(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "First OST"})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Second OST"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already have a pending request")

	// The requester is told in the talk channel which request is still open.
	talk := f.mem.ChannelMessages(f.channels.Talk)
	require.Len(t, talk, 1)
	assert.Contains(t, talk[0].Content, "First OST")
}

func TestSubmit_DonatorBypassesOutstandingAndCapacity(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Submission{UserID: "200", UserTag: "bob#0002", Donator: true, Text: "OST one"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Submission{UserID: "200", UserTag: "bob#0002", Donator: true, Text: "OST two"})
	require.NoError(t, err)

	// Donator requests never count toward capacity, so the gate stays open.
	count, err := f.gate.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSubmit_DuplicateLinkRejected(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "https://example.com/ost"})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, Submission{UserID: "300", UserTag: "carol#0003", Text: "https://example.com/ost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been requested")

	talk := f.mem.ChannelMessages(f.channels.Talk)
	require.Len(t, talk, 1)
	assert.Contains(t, talk[0].Content, "https://example.com/ost")
}

func TestSubmit_DuplicateLinkRejectedEvenAfterCompletion(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "https://example.com/ost"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, Submission{UserID: "300", UserTag: "carol#0003", Text: "https://example.com/ost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been requested")
}

func TestPendingCount_ExcludesDonators(t *testing.T) {
	f := newFixture(t, 100, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		req := &models.Request{
			Title:   fmt.Sprintf("OST %d", i),
			UserID:  fmt.Sprintf("%d", 1000+i),
			UserTag: fmt.Sprintf("user%d#0001", i),
			Donator: i < 10,
			State:   models.RequestStatePending,
		}
		require.NoError(t, f.repo.Create(ctx, req))
	}

	count, err := f.gate.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), count)
}

func TestGate_ClosesExactlyOnceAtLimit(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Submit(ctx, Submission{
			UserID:  fmt.Sprintf("%d", 100+i),
			UserTag: fmt.Sprintf("user%d#0001", i),
			Text:    fmt.Sprintf("OST %d", i),
		})
		require.NoError(t, err)
	}

	allowed, err := f.mem.GetRolePermission(ctx, f.channels.Submission, f.channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.False(t, allowed)

	submission := f.mem.ChannelMessages(f.channels.Submission)
	assert.Equal(t, 1, countContent(submission, "Requests closed"))

	// Further rechecks are idempotent.
	require.NoError(t, f.gate.Recheck(ctx))
	submission = f.mem.ChannelMessages(f.channels.Submission)
	assert.Equal(t, 1, countContent(submission, "Requests closed"))

	_, err = f.svc.Submit(ctx, Submission{UserID: "999", UserTag: "dave#0004", Text: "One more"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many open requests")
}

func TestGate_ReopensWhenSlotFrees(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "OST one"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Submission{UserID: "200", UserTag: "bob#0002", Text: "OST two"})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, first.ID)
	require.NoError(t, err)

	allowed, err := f.mem.GetRolePermission(ctx, f.channels.Submission, f.channels.Members, platform.CapabilitySendMessages)
	require.NoError(t, err)
	assert.True(t, allowed)

	submission := f.mem.ChannelMessages(f.channels.Submission)
	assert.Equal(t, 1, countContent(submission, "Requests closed"))
	assert.Equal(t, 1, countContent(submission, "Requests open"))
}

func TestHold_SetsReasonAndRefreshesListing(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Rare OST"})
	require.NoError(t, err)

	held, err := f.svc.Hold(ctx, req.ID, "hard to source")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStateHold, held.State)
	assert.Equal(t, "hard to source", held.Reason)
	assert.Equal(t, req.ListingRef, held.ListingRef)

	msgs := f.mem.ChannelMessages(f.channels.Listing)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Embed.Fields[0].Value, "(ON HOLD)")

	talk := f.mem.ChannelMessages(f.channels.Talk)
	require.Len(t, talk, 1)
	assert.Contains(t, talk[0].Content, "ON HOLD")
	assert.Contains(t, talk[0].Content, "hard to source")
	assert.Contains(t, talk[0].Content, "<@100>")
}

func TestHold_AlreadyHeldFails(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Rare OST"})
	require.NoError(t, err)

	_, err = f.svc.Hold(ctx, req.ID, "first reason")
	require.NoError(t, err)

	_, err = f.svc.Hold(ctx, req.ID, "second reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already on hold")

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "first reason", stored.Reason)
}

func TestHold_RequiresReason(t *testing.T) {
	f := newFixture(t, 20, nil)

	_, err := f.svc.Hold(context.Background(), 1, "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reason is required")
}

func TestComplete_RemovesListingAndClearsRef(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Done OST"})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStateComplete, done.State)
	assert.Empty(t, done.ListingRef)

	assert.Empty(t, f.mem.ChannelMessages(f.channels.Listing))

	_, err = f.svc.Complete(ctx, req.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already complete")
}

func TestComplete_AfterHoldRetainsReason(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Rare OST"})
	require.NoError(t, err)
	_, err = f.svc.Hold(ctx, req.ID, "waiting on a rip")
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, req.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestStateComplete, done.State)
	assert.Equal(t, "waiting on a rip", done.Reason)
	assert.Empty(t, done.ListingRef)
}

func TestComplete_NotFound(t *testing.T) {
	f := newFixture(t, 20, nil)

	_, err := f.svc.Complete(context.Background(), 999)
	require.Error(t, err)

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestReject_WorksOnPendingAndHeld(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	pending, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Pending OST"})
	require.NoError(t, err)
	held, err := f.svc.Submit(ctx, Submission{UserID: "200", UserTag: "bob#0002", Text: "Held OST"})
	require.NoError(t, err)
	_, err = f.svc.Hold(ctx, held.ID, "parked")
	require.NoError(t, err)

	for _, id := range []uint{pending.ID, held.ID} {
		rejected, err := f.svc.Reject(ctx, id, "not a soundtrack")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStateComplete, rejected.State)
		assert.Equal(t, "not a soundtrack", rejected.Reason)
		assert.Empty(t, rejected.ListingRef)
	}

	assert.Empty(t, f.mem.ChannelMessages(f.channels.Listing))

	talk := f.mem.ChannelMessages(f.channels.Talk)
	rejections := 0
	for _, m := range talk {
		if strings.Contains(m.Content, "has been rejected") {
			rejections++
		}
	}
	assert.Equal(t, 2, rejections)
}

func TestSubmit_ListingFailureRollsBack(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	f.mem.FailNextSend()
	_, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "Doomed OST"})
	require.Error(t, err)

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)

	// The transaction rolled back, so nothing blocks a retry.
	existing, err := f.repo.OutstandingByUser(ctx, "100")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestSubmit_MetadataResolvesTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/albums/187", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		json.NewEncoder(w).Encode(metadata.Album{Name: "SOUL CALIBUR Original Soundtrack"})
	}))
	defer srv.Close()

	resolver := metadata.NewResolver(srv.URL, "test-key", "vgmdb.net", nil, time.Minute)
	f := newFixture(t, 20, resolver)

	req, err := f.svc.Submit(context.Background(), Submission{
		UserID:  "100",
		UserTag: "alice#0001",
		Text:    "https://vgmdb.net/album/187",
	})
	require.NoError(t, err)
	assert.Equal(t, "SOUL CALIBUR Original Soundtrack", req.Title)
}

func TestSubmit_MetadataFailureFallsBackToInputTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := metadata.NewResolver(srv.URL, "test-key", "vgmdb.net", nil, time.Minute)
	f := newFixture(t, 20, resolver)

	req, err := f.svc.Submit(context.Background(), Submission{
		UserID:  "100",
		UserTag: "alice#0001",
		Text:    "Soul Calibur OST https://vgmdb.net/album/187",
	})
	require.NoError(t, err)
	assert.Equal(t, "Soul Calibur OST", req.Title)
	assert.Equal(t, models.RequestStatePending, req.State)
}

func TestRefresh_RepublishesOpenRequests(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Text: "OST A"})
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, Submission{UserID: "200", UserTag: "bob#0002", Text: "OST B"})
	require.NoError(t, err)
	done, err := f.svc.Submit(ctx, Submission{UserID: "300", UserTag: "carol#0003", Text: "OST C"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, done.ID)
	require.NoError(t, err)

	n, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	refreshedA, err := f.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ListingRef, refreshedA.ListingRef)
	refreshedB, err := f.repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, b.ListingRef, refreshedB.ListingRef)
}

func TestUserSummary(t *testing.T) {
	f := newFixture(t, 20, nil)
	ctx := context.Background()

	held, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Donator: true, Text: "OST A"})
	require.NoError(t, err)
	_, err = f.svc.Hold(ctx, held.ID, "parked")
	require.NoError(t, err)
	done, err := f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Donator: true, Text: "OST B"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, done.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, Submission{UserID: "100", UserTag: "alice#0001", Donator: true, Text: "OST C"})
	require.NoError(t, err)

	summary, err := f.svc.UserSummary(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Pending)
	assert.Equal(t, int64(1), summary.Hold)
	assert.Equal(t, int64(1), summary.Complete)

	empty, err := f.svc.UserSummary(ctx, "404")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Pending)
	assert.Equal(t, int64(0), empty.Hold)
	assert.Equal(t, int64(0), empty.Complete)
}
