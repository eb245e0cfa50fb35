// Package tui is a terminal inbox driving a session.Manager. It follows the
// bubbletea model/update/view loop; every manager call runs as a tea.Cmd and
// the view renders from Manager.Snapshot.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/session"
)

// Session is the part of session.Manager the inbox drives.
type Session interface {
	Viewer() session.Viewer
	Snapshot() session.Snapshot
	SetDraft(text string)
	CanDeleteConversation(key string) bool
	LoadConversations(ctx context.Context) error
	SelectConversation(ctx context.Context, key string) error
	SelectCounterpart(ctx context.Context, counterpart model.Participant) error
	SendMessage(ctx context.Context, text string) error
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, key string) error
	Stats(ctx context.Context) (*model.MessageStats, error)
}

type focus int

const (
	focusList focus = iota
	focusThread
	focusCompose
)

const noticeTTL = 5 * time.Second

// Messages produced by commands.
type (
	loadedMsg   struct{ err error }
	selectedMsg struct{ err error }
	sentMsg     struct{ err error }
	deletedMsg  struct{ err error }
	statsMsg    struct {
		stats *model.MessageStats
		err   error
	}
	noticeMsg      session.Notice
	clearNoticeMsg struct{ seq int }
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	focusedStyle  = paneStyle.BorderForeground(lipgloss.Color("63"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	deletedStyle  = dimStyle.Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

// Inbox is the bubbletea model.
type Inbox struct {
	session  Session
	notices  <-chan session.Notice
	deepLink *model.Participant
	ctx      context.Context

	compose    textinput.Model
	focus      focus
	listCursor int
	msgCursor  int
	busy       bool
	stats      *model.MessageStats

	notice    session.Notice
	noticeSeq int

	width  int
	height int
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithDeepLink opens a conversation with counterpart once the list loads.
func WithDeepLink(counterpart model.Participant) Option {
	return func(i *Inbox) { i.deepLink = &counterpart }
}

// WithContext sets the context manager calls run under.
func WithContext(ctx context.Context) Option {
	return func(i *Inbox) { i.ctx = ctx }
}

// New creates an inbox. notices should be the channel fed by the session's
// notifier; see ChannelNotifier.
func New(s Session, notices <-chan session.Notice, opts ...Option) *Inbox {
	ti := textinput.New()
	ti.Placeholder = "Write a message…"
	ti.CharLimit = 2000
	ti.Prompt = "> "

	i := &Inbox{
		session: s,
		notices: notices,
		ctx:     context.Background(),
		compose: ti,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ChannelNotifier returns a notifier that forwards notices to a buffered
// channel, dropping them when the channel is full.
func ChannelNotifier(size int) (session.Notifier, <-chan session.Notice) {
	ch := make(chan session.Notice, size)
	return session.NotifierFunc(func(n session.Notice) {
		select {
		case ch <- n:
		default:
		}
	}), ch
}

// Init starts the first load.
func (i *Inbox) Init() tea.Cmd {
	i.busy = true
	return tea.Batch(i.load(), i.waitForNotice(), i.fetchStats())
}

func (i *Inbox) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: i.session.LoadConversations(i.ctx)}
	}
}

func (i *Inbox) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := i.session.Stats(i.ctx)
		return statsMsg{stats: stats, err: err}
	}
}

func (i *Inbox) waitForNotice() tea.Cmd {
	if i.notices == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-i.notices
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func (i *Inbox) selectKey(key string) tea.Cmd {
	i.msgCursor = 0
	return func() tea.Msg {
		return selectedMsg{err: i.session.SelectConversation(i.ctx, key)}
	}
}

func (i *Inbox) selectCounterpart(p model.Participant) tea.Cmd {
	return func() tea.Msg {
		return selectedMsg{err: i.session.SelectCounterpart(i.ctx, p)}
	}
}

// Update handles a message.
func (i *Inbox) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		i.width, i.height = msg.Width, msg.Height
		i.compose.Width = max(msg.Width-6, 10)
		return i, nil

	case loadedMsg:
		i.busy = false
		i.clampCursors()
		if msg.err == nil && i.deepLink != nil {
			p := *i.deepLink
			i.deepLink = nil
			i.focus = focusCompose
			i.compose.Focus()
			return i, i.selectCounterpart(p)
		}
		return i, nil

	case selectedMsg, deletedMsg:
		i.clampCursors()
		return i, nil

	case sentMsg:
		i.busy = false
		// A failed send restores the draft in the session.
		i.compose.SetValue(i.session.Snapshot().Draft)
		i.compose.CursorEnd()
		i.syncListCursorToActive()
		return i, i.fetchStats()

	case statsMsg:
		if msg.err == nil {
			i.stats = msg.stats
		}
		return i, nil

	case noticeMsg:
		i.noticeSeq++
		i.notice = session.Notice(msg)
		seq := i.noticeSeq
		return i, tea.Batch(i.waitForNotice(), tea.Tick(noticeTTL, func(time.Time) tea.Msg {
			return clearNoticeMsg{seq: seq}
		}))

	case clearNoticeMsg:
		if msg.seq == i.noticeSeq {
			i.notice = session.Notice{}
		}
		return i, nil

	case tea.KeyMsg:
		return i.handleKey(msg)
	}

	if i.focus == focusCompose {
		var cmd tea.Cmd
		i.compose, cmd = i.compose.Update(msg)
		return i, cmd
	}
	return i, nil
}

func (i *Inbox) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return i, tea.Quit
	case "tab":
		i.cycleFocus()
		return i, nil
	case "esc":
		i.setFocus(focusList)
		return i, nil
	}

	switch i.focus {
	case focusCompose:
		if msg.Type == tea.KeyEnter {
			return i, i.send()
		}
		var cmd tea.Cmd
		i.compose, cmd = i.compose.Update(msg)
		i.session.SetDraft(i.compose.Value())
		return i, cmd

	case focusThread:
		snap := i.session.Snapshot()
		switch msg.String() {
		case "q":
			return i, tea.Quit
		case "up", "k":
			if i.msgCursor > 0 {
				i.msgCursor--
			}
		case "down", "j":
			if i.msgCursor < len(snap.Messages)-1 {
				i.msgCursor++
			}
		case "d":
			if i.msgCursor < len(snap.Messages) {
				id := snap.Messages[i.msgCursor].ID
				return i, func() tea.Msg {
					return deletedMsg{err: i.session.DeleteMessage(i.ctx, id)}
				}
			}
		}
		return i, nil

	default:
		snap := i.session.Snapshot()
		switch msg.String() {
		case "q":
			return i, tea.Quit
		case "up", "k":
			if i.listCursor > 0 {
				i.listCursor--
			}
		case "down", "j":
			if i.listCursor < len(snap.Conversations)-1 {
				i.listCursor++
			}
		case "enter":
			if i.listCursor < len(snap.Conversations) {
				i.setFocus(focusThread)
				return i, i.selectKey(snap.Conversations[i.listCursor].Key())
			}
		case "r":
			i.busy = true
			return i, tea.Batch(i.load(), i.fetchStats())
		case "x":
			if i.listCursor < len(snap.Conversations) {
				key := snap.Conversations[i.listCursor].Key()
				if !i.session.CanDeleteConversation(key) {
					i.notice = session.Notice{Level: session.NoticeError, Text: "Only inquiry conversations can be deleted."}
					return i, nil
				}
				return i, func() tea.Msg {
					return deletedMsg{err: i.session.DeleteConversation(i.ctx, key)}
				}
			}
		}
		return i, nil
	}
}

func (i *Inbox) send() tea.Cmd {
	text := i.compose.Value()
	if strings.TrimSpace(text) == "" || i.busy {
		return nil
	}
	if i.session.Snapshot().Active == nil {
		i.notice = session.Notice{Level: session.NoticeError, Text: "Select a conversation first."}
		return nil
	}
	i.busy = true
	i.compose.SetValue("")
	return func() tea.Msg {
		return sentMsg{err: i.session.SendMessage(i.ctx, text)}
	}
}

func (i *Inbox) cycleFocus() {
	i.setFocus((i.focus + 1) % 3)
}

func (i *Inbox) setFocus(f focus) {
	i.focus = f
	if f == focusCompose {
		i.compose.Focus()
	} else {
		i.compose.Blur()
	}
}

func (i *Inbox) clampCursors() {
	snap := i.session.Snapshot()
	if i.listCursor >= len(snap.Conversations) {
		i.listCursor = max(len(snap.Conversations)-1, 0)
	}
	if i.msgCursor >= len(snap.Messages) {
		i.msgCursor = max(len(snap.Messages)-1, 0)
	}
	i.syncListCursorToActive()
}

func (i *Inbox) syncListCursorToActive() {
	snap := i.session.Snapshot()
	if snap.Active == nil {
		return
	}
	for idx, c := range snap.Conversations {
		if c.Key() == snap.Active.Key() {
			i.listCursor = idx
			return
		}
	}
}

// View renders the inbox.
func (i *Inbox) View() string {
	snap := i.session.Snapshot()
	viewer := i.session.Viewer()

	header := titleStyle.Render(fmt.Sprintf("RentEase inbox · %s (%s)", viewer.UserID, strings.ToLower(string(viewer.Role))))
	if i.stats != nil {
		header += dimStyle.Render(fmt.Sprintf("  %d conversations · %d unread", i.stats.TotalConversations, i.stats.UnreadMessages))
	}
	if i.busy {
		header += dimStyle.Render("  …")
	}

	listWidth := 32
	threadWidth := max(i.width-listWidth-6, 30)

	list := i.renderList(snap, listWidth)
	thread := i.renderThread(snap, threadWidth)

	listPane, threadPane := paneStyle, paneStyle
	if i.focus == focusList {
		listPane = focusedStyle
	} else {
		threadPane = focusedStyle
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		listPane.Width(listWidth).Render(list),
		threadPane.Width(threadWidth).Render(thread),
	)

	footer := dimStyle.Render("tab focus · enter open/send · x delete conversation · d delete message · r reload · q quit")
	if i.notice.Text != "" {
		style := infoStyle
		if i.notice.Level == session.NoticeError {
			style = errorStyle
		}
		footer = style.Render(i.notice.Text)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (i *Inbox) renderList(snap session.Snapshot, width int) string {
	if len(snap.Conversations) == 0 {
		return dimStyle.Render("No conversations yet.")
	}

	var b strings.Builder
	for idx, c := range snap.Conversations {
		name := c.Counterpart.Name
		if name == "" {
			name = c.Counterpart.ID
		}
		line := name
		if c.IsInquiry {
			line += " ·inquiry"
		}
		if c.Identity.State() != session.StatePersisted {
			line += " ·new"
		}
		if c.UnreadCount > 0 {
			line += " " + unreadStyle.Render(fmt.Sprintf("(%d)", c.UnreadCount))
		}
		if idx == i.listCursor {
			line = selectedStyle.Render(truncate(line, width))
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if c.LastMessage != nil {
			b.WriteString(dimStyle.Render(truncate(c.LastMessage.Content, width)))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (i *Inbox) renderThread(snap session.Snapshot, width int) string {
	var b strings.Builder
	if snap.Active == nil {
		b.WriteString(dimStyle.Render("Select a conversation."))
	} else {
		name := snap.Active.Counterpart.Name
		if name == "" {
			name = snap.Active.Counterpart.ID
		}
		b.WriteString(titleStyle.Render(name))
		b.WriteByte('\n')

		if len(snap.Messages) == 0 {
			b.WriteString(dimStyle.Render("No messages."))
			b.WriteByte('\n')
		}
		viewerID := i.session.Viewer().UserID
		for idx, m := range snap.Messages {
			who := snap.Active.Counterpart.Name
			if model.SameID(m.SenderID, viewerID) {
				who = "you"
			}
			text := m.DisplayContent()
			if m.IsDeleted() {
				text = deletedStyle.Render(text)
			}
			line := fmt.Sprintf("%s %s: %s", m.CreatedAt.Local().Format("Jan 2 15:04"), who, text)
			if i.focus == focusThread && idx == i.msgCursor {
				line = selectedStyle.Render(line)
			}
			b.WriteString(lipgloss.NewStyle().Width(width).Render(line))
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	b.WriteString(i.compose.View())
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
