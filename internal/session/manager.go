package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/metrics"
)

const defaultProvisionLimit = 8

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the receiver of user-visible notices.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithProvisionLimit bounds the concurrent conversation creations issued while
// provisioning a landlord's tenant roster.
func WithProvisionLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.provisionLimit = n
		}
	}
}

// Manager owns one user's conversation list, the active conversation and its
// messages, and the compose draft. All methods are safe for concurrent use;
// network calls run without holding the lock.
type Manager struct {
	api            API
	viewer         Viewer
	notifier       Notifier
	logger         *logger.Logger
	provisionLimit int

	mu            sync.Mutex
	conversations []Conversation
	active        *Conversation
	messages      []model.Message
	draft         string
	sending       map[string]struct{}
	deleting      map[string]struct{}

	loadSeq     uint64
	cancelLoad  context.CancelFunc
	fetchSeq    uint64
	cancelFetch context.CancelFunc
}

// New creates a session manager for viewer.
func New(api API, viewer Viewer, opts ...Option) *Manager {
	m := &Manager{
		api:            api,
		viewer:         viewer,
		notifier:       discardNotifier{},
		logger:         logger.Global(),
		provisionLimit: defaultProvisionLimit,
		sending:        make(map[string]struct{}),
		deleting:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("session").With(
		zap.String("user_id", viewer.UserID),
		zap.String("role", string(viewer.Role)),
	)
	return m
}

// Viewer returns the user the session belongs to.
func (m *Manager) Viewer() Viewer { return m.viewer }

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Conversations: make([]Conversation, len(m.conversations)),
		Messages:      make([]model.Message, len(m.messages)),
		Draft:         m.draft,
	}
	for i, c := range m.conversations {
		snap.Conversations[i] = c.clone()
	}
	copy(snap.Messages, m.messages)
	if m.active != nil {
		active := m.active.clone()
		snap.Active = &active
	}
	return snap
}

// SetDraft replaces the compose buffer.
func (m *Manager) SetDraft(text string) {
	m.mu.Lock()
	m.draft = text
	m.mu.Unlock()
}

// Draft returns the compose buffer.
func (m *Manager) Draft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// CanDeleteConversation reports whether the viewer may delete the
// conversation: landlords always, tenants only inquiry threads. The server
// enforces the same rule.
func (m *Manager) CanDeleteConversation(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(key)
	if idx < 0 {
		return false
	}
	switch m.viewer.Role {
	case model.RoleLandlord:
		return true
	case model.RoleTenant:
		return m.conversations[idx].IsInquiry
	default:
		return false
	}
}

// Close cancels outstanding loads and message fetches. Late responses are
// discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadSeq++
	if m.cancelLoad != nil {
		m.cancelLoad()
		m.cancelLoad = nil
	}
	m.supersedeFetchLocked()
}

// LoadConversations fetches the viewer's conversation list. For landlords,
// every active tenant without a conversation gets one created first; those
// creations run concurrently and individual failures are skipped. On failure
// the previous list is kept. When the active virtual conversation turns out
// to exist on the server, its messages are fetched.
func (m *Manager) LoadConversations(ctx context.Context) error {
	parent := ctx
	m.mu.Lock()
	m.loadSeq++
	seq := m.loadSeq
	if m.cancelLoad != nil {
		m.cancelLoad()
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancelLoad = cancel
	m.mu.Unlock()
	defer cancel()

	convs, err := m.api.ListConversations(ctx, m.viewer.Role)
	if err != nil {
		return m.fail(ctx, err, "Could not load conversations.")
	}

	if m.viewer.Role == model.RoleLandlord {
		provisioned := m.provisionRoster(ctx, convs)
		convs = append(provisioned, convs...)
	}

	m.mu.Lock()
	if seq != m.loadSeq || errors.Is(ctx.Err(), context.Canceled) {
		m.mu.Unlock()
		m.logger.Debug("discarding superseded conversation list")
		return nil
	}
	refetch := m.replaceConversationsLocked(convs)
	m.cancelLoad = nil
	m.mu.Unlock()

	m.logger.Debug("conversations loaded", zap.Int("count", len(convs)))
	if refetch != "" {
		return m.SelectConversation(parent, refetch)
	}
	return nil
}

// provisionRoster creates conversations for active tenants that have none.
// It never fails; errors are logged and the tenant is skipped.
func (m *Manager) provisionRoster(ctx context.Context, existing []model.Conversation) []model.Conversation {
	tenants, err := m.api.ActiveTenants(ctx)
	if err != nil {
		if !isCancellation(ctx, err) {
			m.logger.Warn("failed to load active tenants", zap.Error(err))
		}
		return nil
	}

	known := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		known[model.CanonicalID(c.Counterpart.ID)] = struct{}{}
	}

	var missing []model.TenantSummary
	for _, t := range tenants {
		id := model.CanonicalID(t.ID)
		if id == "" {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return nil
	}

	results := make([]*model.Conversation, len(missing))
	var g errgroup.Group
	g.SetLimit(m.provisionLimit)
	for i, t := range missing {
		g.Go(func() error {
			conv, err := m.api.CreateConversation(ctx, m.viewer.Role, t.ID)
			if err == nil && conv == nil {
				err = ErrMalformedResponse
			}
			metrics.RecordProvisioning(err)
			if err != nil {
				m.logger.Warn("failed to provision conversation for tenant",
					zap.String("tenant_id", t.ID),
					zap.Error(err),
				)
				return nil
			}
			results[i] = conv
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c.ID] = struct{}{}
	}
	var provisioned []model.Conversation
	for _, conv := range results {
		if conv == nil {
			continue
		}
		if _, dup := seen[conv.ID]; dup {
			continue
		}
		seen[conv.ID] = struct{}{}
		provisioned = append(provisioned, *conv)
	}
	return provisioned
}

// replaceConversationsLocked installs a server list, keeping local virtual
// entries only for counterparts the server has no conversation with. It
// returns the key of the server conversation that replaced an active virtual
// one, or "" when the active thread is unchanged.
func (m *Manager) replaceConversationsLocked(convs []model.Conversation) string {
	next := make([]Conversation, 0, len(convs)+1)
	serverIdx := make(map[string]int, len(convs))
	for _, c := range convs {
		if _, dup := serverIdx[c.ID]; dup {
			continue
		}
		serverIdx[c.ID] = len(next)
		next = append(next, fromModel(c))
	}

	fromServer := next
	byCounterpart := func(id string) (Conversation, bool) {
		for _, c := range fromServer {
			if model.SameID(c.Counterpart.ID, id) {
				return c, true
			}
		}
		return Conversation{}, false
	}

	var virtual []Conversation
	for _, c := range m.conversations {
		if c.Identity.IsPersisted() {
			continue
		}
		if _, ok := byCounterpart(c.Counterpart.ID); ok {
			continue
		}
		virtual = append(virtual, c)
	}
	next = append(virtual, next...)

	var refetch string
	if m.active != nil {
		switch {
		case m.active.Identity.IsPersisted():
			if idx, ok := serverIdx[m.active.Key()]; ok {
				active := next[idx+len(virtual)].clone()
				m.active = &active
			}
		case m.active.Identity.State() == StateVirtual:
			if realConv, ok := byCounterpart(m.active.Counterpart.ID); ok {
				active := realConv.clone()
				m.active = &active
				refetch = realConv.Key()
			}
		}
	}

	m.conversations = next
	return refetch
}

// SelectConversation makes an existing list entry active and fetches its
// messages. A newer selection cancels the fetch and its late result is
// dropped. Virtual conversations are activated without a fetch.
func (m *Manager) SelectConversation(ctx context.Context, key string) error {
	m.mu.Lock()
	idx := m.indexLocked(key)
	if idx < 0 {
		m.mu.Unlock()
		return ErrUnknownConversation
	}
	conv := m.conversations[idx].clone()
	m.active = &conv
	m.messages = nil
	m.supersedeFetchLocked()

	serverID, persisted := conv.Identity.ServerID()
	if !persisted {
		m.mu.Unlock()
		return nil
	}
	seq := m.fetchSeq
	ctx, cancel := context.WithCancel(ctx)
	m.cancelFetch = cancel
	m.mu.Unlock()
	defer cancel()

	msgs, err := m.api.ListMessages(ctx, m.viewer.Role, serverID)

	m.mu.Lock()
	if seq != m.fetchSeq || m.active == nil || m.active.Key() != key || errors.Is(ctx.Err(), context.Canceled) {
		m.mu.Unlock()
		m.logger.Debug("discarding stale message fetch", zap.String("conversation_id", serverID))
		return nil
	}
	m.cancelFetch = nil
	if err != nil {
		m.mu.Unlock()
		return m.fail(ctx, err, "Could not load messages.")
	}

	m.messages = orderMessages(msgs)
	m.updateLocked(key, func(c *Conversation) { c.UnreadCount = 0 })
	m.mu.Unlock()
	return nil
}

// SelectCounterpart activates the conversation with counterpart, synthesizing
// a virtual one when none exists. No request is issued for a virtual
// conversation; the server creates it with the first message.
func (m *Manager) SelectCounterpart(ctx context.Context, counterpart model.Participant) error {
	if model.CanonicalID(counterpart.ID) == "" || model.SameID(counterpart.ID, m.viewer.UserID) {
		return ErrInvalidCounterpart
	}

	m.mu.Lock()
	for _, c := range m.conversations {
		if !model.SameID(c.Counterpart.ID, counterpart.ID) {
			continue
		}
		key := c.Key()
		m.mu.Unlock()
		return m.SelectConversation(ctx, key)
	}
	defer m.mu.Unlock()

	conv := Conversation{
		Identity:    NewVirtualIdentity(),
		Counterpart: counterpart,
		IsInquiry:   true,
	}
	m.conversations = append([]Conversation{conv}, m.conversations...)
	active := conv.clone()
	m.active = &active
	m.messages = nil
	m.supersedeFetchLocked()

	m.logger.Debug("virtual conversation opened", zap.String("counterpart_id", counterpart.ID))
	return nil
}

// SendMessage sends text into the active conversation. The draft is cleared
// optimistically and restored on failure. Only one send per conversation may
// be in flight; a second call returns ErrSendInFlight without a request.
// Sending from a virtual conversation transfers its identity to the
// server-assigned conversation.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return ErrNoActiveConversation
	}
	conv := m.active.clone()
	key := conv.Key()
	if _, busy := m.sending[key]; busy || conv.Identity.State() == StatePersisting {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	m.sending[key] = struct{}{}

	draft := m.draft
	if draft == "" {
		draft = text
	}
	m.draft = ""

	req := &model.SendMessageRequest{Content: content}
	if id, ok := conv.Identity.ServerID(); ok {
		req.ConversationID = id
	} else {
		req.RecipientID = conv.Counterpart.ID
		m.updateLocked(key, func(c *Conversation) { c.Identity = c.Identity.persisting() })
	}
	m.mu.Unlock()

	msg, err := m.api.SendMessage(ctx, m.viewer.Role, req)
	if err == nil && (msg == nil || msg.ConversationID == "") {
		err = ErrMalformedResponse
	}

	m.mu.Lock()
	delete(m.sending, key)
	if err != nil {
		m.updateLocked(key, func(c *Conversation) { c.Identity = c.Identity.reverted() })
		if m.draft == "" {
			m.draft = draft
		}
		m.mu.Unlock()
		return m.fail(ctx, err, "Message could not be sent.")
	}

	m.persistLocked(key, conv.Counterpart, msg)
	if m.active != nil && m.active.Key() == msg.ConversationID && !containsMessage(m.messages, msg.ID) {
		m.messages = append(m.messages, *msg)
	}
	m.mu.Unlock()

	m.logger.Debug("message sent",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// persistLocked applies a successful send to the conversation list: the entry
// under oldKey (or the server id) takes the server identity, and any other
// entry for the same conversation or a virtual one for the same counterpart
// is dropped.
func (m *Manager) persistLocked(oldKey string, counterpart model.Participant, msg *model.Message) {
	serverID := msg.ConversationID

	idx := m.indexLocked(oldKey)
	if idx < 0 {
		idx = m.indexLocked(serverID)
	}

	var conv Conversation
	if idx >= 0 {
		conv = m.conversations[idx]
	} else {
		conv = Conversation{Counterpart: counterpart, IsInquiry: true}
	}
	conv.Identity = PersistedIdentity(serverID)
	conv.LastMessage = msg.Snapshot()
	conv.UnreadCount = 0
	conv.UpdatedAt = msg.CreatedAt

	next := make([]Conversation, 0, len(m.conversations)+1)
	if idx < 0 {
		next = append(next, conv)
	}
	for i, c := range m.conversations {
		if i == idx {
			next = append(next, conv)
			continue
		}
		if c.Key() == serverID {
			continue
		}
		if !c.Identity.IsPersisted() && model.SameID(c.Counterpart.ID, conv.Counterpart.ID) {
			continue
		}
		next = append(next, c)
	}
	m.conversations = next

	if m.active != nil && (m.active.Key() == oldKey || m.active.Key() == serverID) {
		active := conv.clone()
		m.active = &active
	}
}

// DeleteMessage deletes a message of the active conversation. The server
// decides the tier: a soft delete leaves the message in place marked deleted,
// a permanent delete removes it. Only one delete per message may be in
// flight; a second call returns ErrDeleteInFlight without a request.
func (m *Manager) DeleteMessage(ctx context.Context, messageID string) error {
	m.mu.Lock()
	if !containsMessage(m.messages, messageID) {
		m.mu.Unlock()
		return ErrUnknownMessage
	}
	if _, busy := m.deleting[messageID]; busy {
		m.mu.Unlock()
		return ErrDeleteInFlight
	}
	m.deleting[messageID] = struct{}{}
	m.mu.Unlock()

	permanent, err := m.api.DeleteMessage(ctx, m.viewer.Role, messageID)

	m.mu.Lock()
	delete(m.deleting, messageID)
	if err != nil {
		m.mu.Unlock()
		return m.fail(ctx, err, "Message could not be deleted.")
	}
	defer m.mu.Unlock()

	idx := -1
	for i := range m.messages {
		if m.messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	last := idx == len(m.messages)-1
	convKey := m.messages[idx].ConversationID
	if permanent {
		m.messages = append(m.messages[:idx:idx], m.messages[idx+1:]...)
	} else {
		m.messages[idx].Status = model.MessageSoftDeleted
		m.messages[idx].Content = ""
	}

	if last {
		var snap *model.MessageSnapshot
		if n := len(m.messages); n > 0 {
			snap = m.messages[n-1].Snapshot()
		}
		m.updateLocked(convKey, func(c *Conversation) { c.LastMessage = snap })
	}
	return nil
}

// DeleteConversation deletes a conversation. The server is authoritative; a
// rejection leaves local state unchanged. Virtual conversations are dropped
// locally.
func (m *Manager) DeleteConversation(ctx context.Context, key string) error {
	m.mu.Lock()
	idx := m.indexLocked(key)
	if idx < 0 {
		m.mu.Unlock()
		return ErrUnknownConversation
	}
	conv := m.conversations[idx]
	switch conv.Identity.State() {
	case StateVirtual:
		m.removeLocked(key)
		m.mu.Unlock()
		return nil
	case StatePersisting:
		m.mu.Unlock()
		return ErrSendInFlight
	}
	serverID, _ := conv.Identity.ServerID()
	m.mu.Unlock()

	if err := m.api.DeleteConversation(ctx, m.viewer.Role, serverID); err != nil {
		return m.fail(ctx, err, "Conversation could not be deleted.")
	}

	m.mu.Lock()
	m.removeLocked(key)
	m.mu.Unlock()

	m.logger.Debug("conversation deleted", zap.String("conversation_id", serverID))
	return nil
}

// Stats fetches the viewer's inbox totals.
func (m *Manager) Stats(ctx context.Context) (*model.MessageStats, error) {
	stats, err := m.api.MessageStats(ctx, m.viewer.Role)
	if err != nil {
		return nil, m.fail(ctx, err, "Could not load message stats.")
	}
	return stats, nil
}

func (m *Manager) removeLocked(key string) {
	next := m.conversations[:0:0]
	for _, c := range m.conversations {
		if c.Key() != key {
			next = append(next, c)
		}
	}
	m.conversations = next

	if m.active != nil && m.active.Key() == key {
		m.active = nil
		m.messages = nil
		m.supersedeFetchLocked()
	}
}

// updateLocked applies fn to the list entry and the active conversation
// matching key.
func (m *Manager) updateLocked(key string, fn func(*Conversation)) {
	if idx := m.indexLocked(key); idx >= 0 {
		fn(&m.conversations[idx])
	}
	if m.active != nil && m.active.Key() == key {
		fn(m.active)
	}
}

func (m *Manager) indexLocked(key string) int {
	if key == "" {
		return -1
	}
	for i, c := range m.conversations {
		if c.Key() == key {
			return i
		}
	}
	return -1
}

func (m *Manager) supersedeFetchLocked() {
	m.fetchSeq++
	if m.cancelFetch != nil {
		m.cancelFetch()
		m.cancelFetch = nil
	}
}

// fail reports a failed operation. Cancellations are dropped silently and
// return nil.
func (m *Manager) fail(ctx context.Context, err error, text string) error {
	if isCancellation(ctx, err) {
		m.logger.Debug("request cancelled", zap.String("operation", text))
		return nil
	}
	if errors.Is(err, model.ErrForbidden) {
		text = "You are not allowed to do that."
	}
	m.logger.Warn(text, zap.Error(err))
	m.notifier.Notify(Notice{Level: NoticeError, Text: text})
	return err
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func orderMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func containsMessage(msgs []model.Message, id string) bool {
	for _, msg := range msgs {
		if msg.ID == id {
			return true
		}
	}
	return false
}
