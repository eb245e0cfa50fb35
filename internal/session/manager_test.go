package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
)

// fakeAPI implements API with overridable behaviour per call.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	conversations []model.Conversation
	listErr       error
	tenants       []model.TenantSummary
	stats         *model.MessageStats

	createFn             func(ctx context.Context, otherUserID string) (*model.Conversation, error)
	messagesFn           func(ctx context.Context, conversationID string) ([]model.Message, error)
	sendFn               func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error)
	deleteMessageFn      func(ctx context.Context, messageID string) (bool, error)
	deleteConversationFn func(ctx context.Context, conversationID string) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) ListConversations(ctx context.Context, role model.Role) ([]model.Conversation, error) {
	f.record("ListConversations")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeAPI) MessageStats(ctx context.Context, role model.Role) (*model.MessageStats, error) {
	f.record("MessageStats")
	if f.stats == nil {
		return nil, errors.New("stats unavailable")
	}
	return f.stats, nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, role model.Role, otherUserID string) (*model.Conversation, error) {
	f.record("CreateConversation")
	if f.createFn != nil {
		return f.createFn(ctx, otherUserID)
	}
	return &model.Conversation{ID: "conv-" + otherUserID, Counterpart: model.Participant{ID: otherUserID}}, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, role model.Role, conversationID string) ([]model.Message, error) {
	f.record("ListMessages")
	if f.messagesFn != nil {
		return f.messagesFn(ctx, conversationID)
	}
	return nil, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, role model.Role, req *model.SendMessageRequest) (*model.Message, error) {
	f.record("SendMessage")
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return nil, errors.New("send not configured")
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, role model.Role, messageID string) (bool, error) {
	f.record("DeleteMessage")
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return false, nil
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, role model.Role, conversationID string) error {
	f.record("DeleteConversation")
	if f.deleteConversationFn != nil {
		return f.deleteConversationFn(ctx, conversationID)
	}
	return nil
}

func (f *fakeAPI) ActiveTenants(ctx context.Context) ([]model.TenantSummary, error) {
	f.record("ActiveTenants")
	return f.tenants, nil
}

// noticeRecorder collects notices.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

var (
	tenantViewer   = Viewer{UserID: "tenant-1", Role: model.RoleTenant}
	landlordViewer = Viewer{UserID: "landlord-1", Role: model.RoleLandlord}
)

func newTestManager(api API, viewer Viewer) (*Manager, *noticeRecorder) {
	notices := &noticeRecorder{}
	return New(api, viewer, WithNotifier(notices), WithLogger(logger.Nop())), notices
}

func conversationFor(id, counterpartID string, inquiry bool) model.Conversation {
	return model.Conversation{
		ID:          id,
		Counterpart: model.Participant{ID: counterpartID, Name: "User " + counterpartID},
		IsInquiry:   inquiry,
	}
}

func messageIn(conversationID, id, content string, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "someone",
		Content:        content,
		CreatedAt:      at,
		Status:         model.MessageActive,
	}
}

func countForCounterpart(convs []Conversation, counterpartID string) int {
	n := 0
	for _, c := range convs {
		if c.Counterpart.ID == counterpartID {
			n++
		}
	}
	return n
}

func TestManager_SendFromVirtualTransfersIdentity(t *testing.T) {
	api := newFakeAPI()
	api.sendFn = func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error) {
		assert.Empty(t, req.ConversationID)
		assert.Equal(t, "landlord-9", req.RecipientID)
		msg := messageIn("conv-real", "msg-1", req.Content, time.Now())
		msg.SenderID = tenantViewer.UserID
		return &msg, nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()

	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-9", Name: "Dana"}))
	snap := m.Snapshot()
	require.NotNil(t, snap.Active)
	assert.Equal(t, StateVirtual, snap.Active.Identity.State())
	assert.Zero(t, api.count("ListMessages"), "virtual conversations are never fetched")

	m.SetDraft("hello")
	require.NoError(t, m.SendMessage(ctx, "hello"))

	snap = m.Snapshot()
	require.Equal(t, 1, countForCounterpart(snap.Conversations, "landlord-9"))
	conv := snap.Conversations[0]
	assert.Equal(t, StatePersisted, conv.Identity.State())
	id, ok := conv.Identity.ServerID()
	require.True(t, ok)
	assert.Equal(t, "conv-real", id)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hello", conv.LastMessage.Content)
	assert.Zero(t, conv.UnreadCount)

	require.NotNil(t, snap.Active)
	assert.Equal(t, "conv-real", snap.Active.Key())
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "msg-1", snap.Messages[0].ID)
	assert.Empty(t, snap.Draft)
	assert.Empty(t, notices.all())
}

func TestManager_SendResetsUnreadCount(t *testing.T) {
	api := newFakeAPI()
	conv := conversationFor("conv-1", "landlord-2", false)
	conv.UnreadCount = 4
	api.conversations = []model.Conversation{conv}
	api.sendFn = func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error) {
		assert.Equal(t, "conv-1", req.ConversationID)
		assert.Empty(t, req.RecipientID)
		msg := messageIn("conv-1", "msg-9", req.Content, time.Now())
		return &msg, nil
	}
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return nil, errors.New("boom")
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()

	require.NoError(t, m.LoadConversations(ctx))
	// The fetch fails, so the unread count survives selection.
	require.Error(t, m.SelectConversation(ctx, "conv-1"))
	assert.Equal(t, 4, m.Snapshot().Conversations[0].UnreadCount)

	require.NoError(t, m.SendMessage(ctx, "  on my way  "))

	snap := m.Snapshot()
	assert.Zero(t, snap.Conversations[0].UnreadCount)
	assert.Zero(t, snap.Active.UnreadCount)
	assert.Equal(t, "on my way", snap.Conversations[0].LastMessage.Content)
}

func TestManager_StaleFetchDoesNotOverwriteNewerSelection(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{
		conversationFor("conv-a", "landlord-a", false),
		conversationFor("conv-b", "landlord-b", false),
	}
	now := time.Now()
	aStarted := make(chan struct{})
	releaseA := make(chan struct{})
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		if id == "conv-a" {
			close(aStarted)
			<-releaseA
			return []model.Message{messageIn("conv-a", "a-1", "from A", now)}, nil
		}
		return []model.Message{messageIn("conv-b", "b-1", "from B", now)}, nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	errA := make(chan error, 1)
	go func() { errA <- m.SelectConversation(ctx, "conv-a") }()
	<-aStarted

	require.NoError(t, m.SelectConversation(ctx, "conv-b"))
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "b-1", snap.Messages[0].ID)

	close(releaseA)
	require.NoError(t, <-errA)

	snap = m.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "b-1", snap.Messages[0].ID)
	assert.Equal(t, "conv-b", snap.Active.Key())
	assert.Empty(t, notices.all())
}

func TestManager_SelectionCancelsPreviousFetch(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{
		conversationFor("conv-a", "landlord-a", false),
		conversationFor("conv-b", "landlord-b", false),
	}
	aStarted := make(chan struct{})
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		if id == "conv-a" {
			close(aStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	errA := make(chan error, 1)
	go func() { errA <- m.SelectConversation(ctx, "conv-a") }()
	<-aStarted

	require.NoError(t, m.SelectConversation(ctx, "conv-b"))
	assert.NoError(t, <-errA, "cancellation is not an error")
	assert.Empty(t, notices.all(), "cancellation is never shown to the user")
}

func TestManager_SoftThenPermanentDelete(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	now := time.Now()
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{
			messageIn("conv-1", "m-1", "first", now),
			messageIn("conv-1", "m-2", "second", now.Add(time.Second)),
		}, nil
	}
	deletes := 0
	api.deleteMessageFn = func(ctx context.Context, id string) (bool, error) {
		deletes++
		return deletes > 1, nil
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	require.NoError(t, m.DeleteMessage(ctx, "m-1"))
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m-1", snap.Messages[0].ID, "soft delete keeps position")
	assert.True(t, snap.Messages[0].IsDeleted())
	assert.Equal(t, model.DeletedPlaceholder, snap.Messages[0].DisplayContent())

	require.NoError(t, m.DeleteMessage(ctx, "m-1"))
	snap = m.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m-2", snap.Messages[0].ID)
}

func TestManager_DeleteLastMessageUpdatesSnapshot(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	now := time.Now()
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{
			messageIn("conv-1", "m-1", "first", now),
			messageIn("conv-1", "m-2", "second", now.Add(time.Second)),
		}, nil
	}
	api.deleteMessageFn = func(ctx context.Context, id string) (bool, error) { return true, nil }
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	require.NoError(t, m.DeleteMessage(ctx, "m-2"))

	snap := m.Snapshot()
	require.NotNil(t, snap.Conversations[0].LastMessage)
	assert.Equal(t, "first", snap.Conversations[0].LastMessage.Content)
}

func TestManager_PlaceholderTextIsAnOrdinaryMessage(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{messageIn("conv-1", "m-1", model.DeletedPlaceholder, time.Now())}, nil
	}
	api.deleteMessageFn = func(ctx context.Context, id string) (bool, error) { return false, nil }
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	assert.False(t, m.Snapshot().Messages[0].IsDeleted())

	require.NoError(t, m.DeleteMessage(ctx, "m-1"))
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1, "first delete of a genuine message is a soft delete")
	assert.True(t, snap.Messages[0].IsDeleted())
}

func TestManager_SingleFlightSend(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	started := make(chan struct{})
	release := make(chan struct{})
	api.sendFn = func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error) {
		close(started)
		<-release
		msg := messageIn("conv-1", "m-1", req.Content, time.Now())
		return &msg, nil
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	first := make(chan error, 1)
	go func() { first <- m.SendMessage(ctx, "hi") }()
	<-started

	assert.ErrorIs(t, m.SendMessage(ctx, "hi"), ErrSendInFlight)

	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, 1, api.count("SendMessage"))
	assert.Len(t, m.Snapshot().Messages, 1)
}

func TestManager_SingleFlightSendFromVirtual(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	release := make(chan struct{})
	api.sendFn = func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error) {
		close(started)
		<-release
		msg := messageIn("conv-new", "m-1", req.Content, time.Now())
		return &msg, nil
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-3"}))

	first := make(chan error, 1)
	go func() { first <- m.SendMessage(ctx, "is the unit available?") }()
	<-started

	assert.Equal(t, StatePersisting, m.Snapshot().Active.Identity.State())
	assert.ErrorIs(t, m.SendMessage(ctx, "again"), ErrSendInFlight)

	close(release)
	require.NoError(t, <-first)

	snap := m.Snapshot()
	assert.Equal(t, 1, api.count("SendMessage"))
	assert.Equal(t, 1, countForCounterpart(snap.Conversations, "landlord-3"))
	assert.Equal(t, StatePersisted, snap.Active.Identity.State())
}

func TestManager_FailedSendRestoresDraft(t *testing.T) {
	api := newFakeAPI()
	api.sendFn = func(ctx context.Context, req *model.SendMessageRequest) (*model.Message, error) {
		return nil, errors.New("gateway timeout")
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-3"}))

	m.SetDraft("can I see it on Friday?")
	err := m.SendMessage(ctx, m.Draft())
	require.Error(t, err)

	snap := m.Snapshot()
	assert.Equal(t, "can I see it on Friday?", snap.Draft)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, StateVirtual, snap.Active.Identity.State())
	require.Len(t, notices.all(), 1)
	assert.Equal(t, NoticeError, notices.all()[0].Level)
}

func TestManager_SendValidation(t *testing.T) {
	api := newFakeAPI()
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()

	assert.ErrorIs(t, m.SendMessage(ctx, "   "), ErrEmptyMessage)
	assert.ErrorIs(t, m.SendMessage(ctx, "hello"), ErrNoActiveConversation)
	assert.Zero(t, api.count("SendMessage"))
}

func TestManager_TenantDeleteAuthorization(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{
		conversationFor("conv-lease", "landlord-1", false),
		conversationFor("conv-inquiry", "landlord-2", true),
	}
	api.deleteConversationFn = func(ctx context.Context, id string) error {
		if id == "conv-lease" {
			return fmt.Errorf("delete conversation: %w", model.ErrForbidden)
		}
		return nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	assert.False(t, m.CanDeleteConversation("conv-lease"))
	assert.True(t, m.CanDeleteConversation("conv-inquiry"))

	err := m.DeleteConversation(ctx, "conv-lease")
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Len(t, m.Snapshot().Conversations, 2)
	require.Len(t, notices.all(), 1)

	require.NoError(t, m.DeleteConversation(ctx, "conv-inquiry"))
	snap := m.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "conv-lease", snap.Conversations[0].Key())
}

func TestManager_DeleteActiveConversationClearsThread(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "tenant-7", false)}
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{messageIn("conv-1", "m-1", "hello", time.Now())}, nil
	}
	api.tenants = []model.TenantSummary{{ID: "tenant-7"}}
	m, _ := newTestManager(api, landlordViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))
	assert.True(t, m.CanDeleteConversation("conv-1"))

	require.NoError(t, m.DeleteConversation(ctx, "conv-1"))

	snap := m.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.Nil(t, snap.Active)
	assert.Empty(t, snap.Messages)
}

func TestManager_DeleteVirtualConversationIsLocal(t *testing.T) {
	api := newFakeAPI()
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-5"}))
	key := m.Snapshot().Active.Key()

	require.NoError(t, m.DeleteConversation(ctx, key))
	assert.Zero(t, api.count("DeleteConversation"))
	assert.Empty(t, m.Snapshot().Conversations)
}

func TestManager_PartialAutoProvisioning(t *testing.T) {
	api := newFakeAPI()
	api.tenants = []model.TenantSummary{{ID: "t-1"}, {ID: "t-2"}, {ID: "t-3"}}
	api.createFn = func(ctx context.Context, otherUserID string) (*model.Conversation, error) {
		if otherUserID == "t-2" {
			return nil, errors.New("upstream unavailable")
		}
		conv := conversationFor("conv-"+otherUserID, otherUserID, false)
		return &conv, nil
	}
	m, notices := newTestManager(api, landlordViewer)

	require.NoError(t, m.LoadConversations(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, 1, countForCounterpart(snap.Conversations, "t-1"))
	assert.Zero(t, countForCounterpart(snap.Conversations, "t-2"))
	assert.Equal(t, 1, countForCounterpart(snap.Conversations, "t-3"))
	assert.Equal(t, 3, api.count("CreateConversation"))
	assert.Empty(t, notices.all(), "provisioning failures are only logged")
}

func TestManager_ProvisioningSkipsTenantsWithConversations(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "42", false)}
	api.tenants = []model.TenantSummary{{ID: " 42"}, {ID: "43"}, {ID: "43"}}
	m, _ := newTestManager(api, landlordViewer)

	require.NoError(t, m.LoadConversations(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, 1, api.count("CreateConversation"))
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, "conv-43", snap.Conversations[0].Key(), "provisioned conversations are prepended")
}

func TestManager_TenantsAreNotProvisioned(t *testing.T) {
	api := newFakeAPI()
	api.tenants = []model.TenantSummary{{ID: "t-1"}}
	m, _ := newTestManager(api, tenantViewer)

	require.NoError(t, m.LoadConversations(context.Background()))
	assert.Zero(t, api.count("ActiveTenants"))
	assert.Zero(t, api.count("CreateConversation"))
}

func TestManager_LoadFailureKeepsPreviousList(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	api.listErr = fmt.Errorf("list: %w", model.ErrUnauthorized)
	require.Error(t, m.LoadConversations(ctx))

	assert.Len(t, m.Snapshot().Conversations, 1)
	assert.Len(t, notices.all(), 1)
}

func TestManager_FirstLoadFailureLeavesListEmpty(t *testing.T) {
	api := newFakeAPI()
	api.listErr = errors.New("connection refused")
	m, notices := newTestManager(api, landlordViewer)

	require.Error(t, m.LoadConversations(context.Background()))
	assert.Empty(t, m.Snapshot().Conversations)
	assert.Len(t, notices.all(), 1)
	assert.Zero(t, api.count("ActiveTenants"))
}

func TestManager_SelectCounterpartPrefersExistingConversation(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-2"}))

	snap := m.Snapshot()
	assert.Len(t, snap.Conversations, 1)
	assert.Equal(t, "conv-1", snap.Active.Key())
	assert.Equal(t, 1, api.count("ListMessages"))
}

func TestManager_SelectCounterpartRejectsSelf(t *testing.T) {
	m, _ := newTestManager(newFakeAPI(), tenantViewer)
	err := m.SelectCounterpart(context.Background(), model.Participant{ID: tenantViewer.UserID})
	assert.ErrorIs(t, err, ErrInvalidCounterpart)
}

func TestManager_ReloadKeepsVirtualOnlyWithoutRealConversation(t *testing.T) {
	api := newFakeAPI()
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-2"}))

	require.NoError(t, m.LoadConversations(ctx))
	snap := m.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, StateVirtual, snap.Conversations[0].Identity.State())

	api.conversations = []model.Conversation{conversationFor("conv-2", "landlord-2", true)}
	require.NoError(t, m.LoadConversations(ctx))

	snap = m.Snapshot()
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "conv-2", snap.Conversations[0].Key())
	assert.Equal(t, "conv-2", snap.Active.Key())
}

func TestManager_ReloadFetchesHistoryOfReplacedVirtual(t *testing.T) {
	api := newFakeAPI()
	now := time.Now()
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{
			messageIn(id, "m-1", "Is parking included?", now),
			messageIn(id, "m-2", "Yes, one space.", now.Add(time.Second)),
		}, nil
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.SelectCounterpart(ctx, model.Participant{ID: "landlord-2"}))
	assert.Equal(t, 0, api.count("ListMessages"))

	api.conversations = []model.Conversation{conversationFor("conv-2", "landlord-2", true)}
	require.NoError(t, m.LoadConversations(ctx))

	snap := m.Snapshot()
	require.NotNil(t, snap.Active)
	assert.Equal(t, "conv-2", snap.Active.Key())
	assert.True(t, snap.Active.Identity.IsPersisted())
	assert.Equal(t, 1, api.count("ListMessages"))
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m-1", snap.Messages[0].ID)
}

func TestManager_ReloadDoesNotRefetchPersistedActive(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))
	require.Equal(t, 1, api.count("ListMessages"))

	require.NoError(t, m.LoadConversations(ctx))
	assert.Equal(t, 1, api.count("ListMessages"))
}

func TestManager_SingleFlightMessageDelete(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{messageIn("conv-1", "m-1", "hello", time.Now())}, nil
	}
	started := make(chan struct{})
	release := make(chan struct{})
	deletes := 0
	api.deleteMessageFn = func(ctx context.Context, id string) (bool, error) {
		deletes++
		if deletes == 1 {
			close(started)
			<-release
		}
		return deletes > 1, nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	first := make(chan error, 1)
	go func() { first <- m.DeleteMessage(ctx, "m-1") }()
	<-started

	assert.ErrorIs(t, m.DeleteMessage(ctx, "m-1"), ErrDeleteInFlight)

	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, 1, api.count("DeleteMessage"))
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1, "a double press stops at the soft delete")
	assert.True(t, snap.Messages[0].IsDeleted())
	assert.Empty(t, notices.all())

	require.NoError(t, m.DeleteMessage(ctx, "m-1"))
	assert.Empty(t, m.Snapshot().Messages)
}

func TestManager_FailedMessageDeleteReleasesGuard(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		return []model.Message{messageIn("conv-1", "m-1", "hello", time.Now())}, nil
	}
	var fail atomic.Bool
	fail.Store(true)
	api.deleteMessageFn = func(ctx context.Context, id string) (bool, error) {
		if fail.Load() {
			return false, errors.New("unavailable")
		}
		return false, nil
	}
	m, notices := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))
	require.NoError(t, m.SelectConversation(ctx, "conv-1"))

	assert.Error(t, m.DeleteMessage(ctx, "m-1"))
	require.Len(t, notices.all(), 1)

	fail.Store(false)
	require.NoError(t, m.DeleteMessage(ctx, "m-1"))
	assert.True(t, m.Snapshot().Messages[0].IsDeleted())
}

func TestManager_CloseDiscardsLateFetch(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []model.Conversation{conversationFor("conv-1", "landlord-2", false)}
	started := make(chan struct{})
	release := make(chan struct{})
	api.messagesFn = func(ctx context.Context, id string) ([]model.Message, error) {
		close(started)
		<-release
		return []model.Message{messageIn("conv-1", "m-1", "late", time.Now())}, nil
	}
	m, _ := newTestManager(api, tenantViewer)
	ctx := context.Background()
	require.NoError(t, m.LoadConversations(ctx))

	done := make(chan error, 1)
	go func() { done <- m.SelectConversation(ctx, "conv-1") }()
	<-started
	m.Close()
	close(release)
	require.NoError(t, <-done)

	assert.Empty(t, m.Snapshot().Messages)
}

func TestManager_Stats(t *testing.T) {
	api := newFakeAPI()
	api.stats = &model.MessageStats{TotalConversations: 3, UnreadMessages: 5}
	m, _ := newTestManager(api, tenantViewer)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.UnreadMessages)
}

func TestIdentityTransitions(t *testing.T) {
	v := NewVirtualIdentity()
	assert.Equal(t, StateVirtual, v.State())
	_, ok := v.ServerID()
	assert.False(t, ok)

	p := v.persisting()
	assert.Equal(t, StatePersisting, p.State())
	assert.Equal(t, v.Key(), p.Key(), "key is stable while persisting")
	assert.Equal(t, StateVirtual, p.reverted().State())

	persisted := PersistedIdentity("conv-1")
	id, ok := persisted.ServerID()
	assert.True(t, ok)
	assert.Equal(t, "conv-1", id)
	assert.Equal(t, StatePersisted, persisted.persisting().State())
	assert.Equal(t, "persisting", StatePersisting.String())
}
