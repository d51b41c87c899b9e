package msgsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gigsync/internal/auth"
	"gigsync/internal/models"
	"gigsync/internal/observability"
	"gigsync/internal/source"
	"gigsync/internal/thread"
	"gigsync/internal/transport"
)

// typingExpiry is how long a typing indicator stays visible without refresh.
const typingExpiry = 5 * time.Second

// historyReplayLimit caps how many cached messages paint before the fetch.
const historyReplayLimit = 50

// HistoryCache persists message history locally so a reopened conversation
// paints before the network round trip. A nil cache disables it.
type HistoryCache interface {
	SaveMessages(msgs []models.Message) error
	Recent(conversationID uint, limit int) ([]models.Message, error)
	DeleteMessage(messageID uint) error
	DeleteConversation(conversationID uint) error
}

// Options configures an Engine.
type Options struct {
	Source    source.Source
	Transport transport.Transport // nil disables push
	History   HistoryCache        // nil disables the local cache
	User      auth.LocalUser
	Timeout   time.Duration // per-request deadline for source calls
}

type typingEntry struct {
	username  string
	expiresAt time.Time
}

// Engine reconciles the three input channels (history fetch, optimistic send,
// push) into one conversation list and one open thread. All state access goes
// through snapshot methods; change notifications go out on the Bus.
type Engine struct {
	src     source.Source
	tr      transport.Transport
	history HistoryCache
	user    auth.LocalUser
	timeout time.Duration
	bus     *Bus
	log     *observability.SyncLogger

	mu            sync.Mutex
	conversations map[uint]models.Conversation
	openID        uint
	epoch         uint64
	loaded        bool             // the open thread's fetch has committed
	messages      []models.Message // open thread, ascending by CreatedAt
	live          map[uint]models.Message // arrived via push or send since the switch
	typing        map[uint]typingEntry
	sending       map[uint]bool
}

// New creates an engine. Start must be called before push events flow.
func New(opts Options) *Engine {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		src:           opts.Source,
		tr:            opts.Transport,
		history:       opts.History,
		user:          opts.User,
		timeout:       timeout,
		bus:           NewBus(),
		log:           observability.NewSyncLogger("engine"),
		conversations: make(map[uint]models.Conversation),
		live:          make(map[uint]models.Message),
		typing:        make(map[uint]typingEntry),
		sending:       make(map[uint]bool),
	}
}

// Bus returns the engine's event bus for subscribing to state changes.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Start connects the push transport and registers the engine as its handler.
func (e *Engine) Start(ctx context.Context) error {
	if e.tr == nil {
		return nil
	}
	return e.tr.Start(ctx, e)
}

// Close shuts down the transport and the event bus.
func (e *Engine) Close() error {
	var err error
	if e.tr != nil {
		err = e.tr.Close()
	}
	e.bus.Close()
	return err
}

func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// LoadConversations fetches the conversation list and refreshes unread counts
// with one batched request. A failed count refresh keeps the list usable.
func (e *Engine) LoadConversations(ctx context.Context) error {
	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()

	convs, err := e.src.Conversations(reqCtx)
	if err != nil {
		e.log.LogError(ctx, "load_conversations", err)
		return err
	}

	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	counts, countsErr := e.fetchUnreadCounts(ctx, ids)

	e.mu.Lock()
	e.conversations = make(map[uint]models.Conversation, len(convs))
	for _, c := range convs {
		if counts != nil {
			c.UnreadCount = counts[c.ID]
		}
		if c.ID == e.openID {
			c.UnreadCount = 0
		}
		e.conversations[c.ID] = c
	}
	e.mu.Unlock()

	if countsErr != nil {
		e.log.LogBestEffortFailure(ctx, "unread_counts", countsErr)
	}
	e.log.LogOperation(ctx, "load_conversations", map[string]interface{}{"count": len(convs)})
	e.bus.Publish(Event{Type: EventConversationsUpdated})
	return nil
}

func (e *Engine) fetchUnreadCounts(ctx context.Context, ids []uint) (map[uint]int, error) {
	if len(ids) == 0 {
		return map[uint]int{}, nil
	}
	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.src.UnreadCounts(reqCtx, ids)
}

// OpenConversation switches the open thread. The previous conversation's push
// channel is left before the new one is joined, the unread count is pinned to
// zero, cached history paints immediately, and the authoritative fetch merges
// in afterwards. A fetch that lands after another switch is discarded.
func (e *Engine) OpenConversation(ctx context.Context, conversationID uint) error {
	e.mu.Lock()
	// Reopening a loaded thread is a no-op. A thread whose fetch failed is
	// not loaded, so reopening it retries the fetch.
	if e.openID == conversationID && e.loaded {
		e.mu.Unlock()
		return nil
	}
	prev := e.openID
	sameConv := prev == conversationID
	e.openID = conversationID
	e.epoch++
	myEpoch := e.epoch
	e.loaded = false
	e.messages = nil
	e.live = make(map[uint]models.Message)
	e.typing = make(map[uint]typingEntry)
	if c, ok := e.conversations[conversationID]; ok {
		c.UnreadCount = 0
		e.conversations[conversationID] = c
	}
	e.mu.Unlock()

	if !sameConv {
		observability.ConversationSwitches.Inc()
	}
	e.log.LogOperation(ctx, "open_conversation", map[string]interface{}{
		"conversation_id": conversationID,
		"previous":        prev,
	})

	if e.tr != nil {
		if prev != 0 && !sameConv {
			if err := e.tr.Leave(prev); err != nil {
				e.log.LogBestEffortFailure(ctx, "leave_channel", err)
			}
		}
		// Joining an already-joined channel is harmless, so a retry after a
		// failed join or fetch just joins again.
		if err := e.tr.Join(conversationID); err != nil {
			e.log.LogError(ctx, "join_channel", err)
			return err
		}
	}

	e.bus.Publish(Event{Type: EventConversationsUpdated})
	e.replayHistory(conversationID, myEpoch)

	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	fetched, err := e.src.Messages(reqCtx, conversationID)
	if err != nil {
		e.log.LogError(ctx, "fetch_messages", err)
		return err
	}
	sorted, err := thread.SortMessages(fetched)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		observability.StaleFetchDiscards.Inc()
		return nil
	}
	// The fetch is authoritative: it replaces the thread, so cache-replayed
	// entries that no longer exist on the server disappear. Only messages
	// that arrived live (push or send) since the switch are layered back.
	live := e.live
	e.messages = nil
	for _, msg := range sorted {
		e.dedupInsertLocked(msg, "fetch")
	}
	for _, msg := range live {
		if !e.containsLocked(msg.ID) {
			e.insertLocked(msg)
		}
	}
	e.loaded = true
	e.mu.Unlock()

	e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: conversationID})
	e.saveHistory(sorted)
	e.markReadAsync(conversationID)
	return nil
}

// replayHistory paints cached messages for the conversation if the cache has
// any and no newer switch happened meanwhile.
func (e *Engine) replayHistory(conversationID uint, myEpoch uint64) {
	if e.history == nil {
		return
	}
	cached, err := e.history.Recent(conversationID, historyReplayLimit)
	if err != nil || len(cached) == 0 {
		return
	}
	sorted, err := thread.SortMessages(cached)
	if err != nil {
		return
	}

	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		return
	}
	for _, msg := range sorted {
		e.dedupInsertLocked(msg, "fetch")
	}
	e.mu.Unlock()

	e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: conversationID})
}

// markReadAsync reports the read receipt in the background. Failure is logged
// and never surfaced; local state already shows the conversation as read.
func (e *Engine) markReadAsync(conversationID uint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.src.MarkRead(ctx, conversationID); err != nil {
			e.log.LogBestEffortFailure(ctx, "mark_read", err)
		}
	}()
}

// SendMessage validates, uploads any attachment, posts the message, and
// merges the server-confirmed record into the thread. One send per
// conversation may be in flight at a time.
func (e *Engine) SendMessage(ctx context.Context, conversationID uint, content string, att *models.Attachment) (*models.Message, error) {
	if strings.TrimSpace(content) == "" && att == nil {
		observability.SendFailures.WithLabelValues("validation").Inc()
		return nil, models.NewValidationError("Message content is required")
	}

	e.mu.Lock()
	if e.sending[conversationID] {
		e.mu.Unlock()
		observability.SendFailures.WithLabelValues("validation").Inc()
		return nil, models.NewValidationError("A send is already in flight for this conversation")
	}
	e.sending[conversationID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.sending, conversationID)
		e.mu.Unlock()
	}()

	in := source.SendInput{
		ConversationID: conversationID,
		Content:        content,
		ClientRef:      uuid.NewString(),
	}

	// The attachment uploads first; a failed upload aborts the send so no
	// message without its attachment ever reaches the server.
	if att != nil {
		upCtx, cancel := e.opCtx(ctx)
		result, err := e.src.Upload(upCtx, *att)
		cancel()
		if err != nil {
			observability.SendFailures.WithLabelValues("upload").Inc()
			e.log.LogError(ctx, "upload", err)
			return nil, err
		}
		in.AttachmentURL = result.URL
		in.AttachmentType = result.Type
	}

	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	msg, err := e.src.SendMessage(reqCtx, in)
	if err != nil {
		observability.SendFailures.WithLabelValues("api").Inc()
		e.log.LogError(ctx, "send_message", err)
		return nil, err
	}

	e.mu.Lock()
	if conversationID == e.openID {
		e.dedupInsertLocked(*msg, "send")
	}
	e.touchConversationLocked(*msg)
	e.mu.Unlock()

	e.log.LogOperation(ctx, "send_message", map[string]interface{}{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
	})
	e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: conversationID})
	e.bus.Publish(Event{Type: EventConversationsUpdated})
	e.saveHistory([]models.Message{*msg})
	return msg, nil
}

// EditMessage updates a message's content on the server and in local state.
// CreatedAt is untouched so thread position never changes.
func (e *Engine) EditMessage(ctx context.Context, messageID uint, content string) error {
	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	updated, err := e.src.EditMessage(reqCtx, messageID, content)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for i := range e.messages {
		if e.messages[i].ID == messageID {
			e.messages[i].Content = updated.Content
			e.messages[i].UpdatedAt = updated.UpdatedAt
			break
		}
	}
	if m, ok := e.live[messageID]; ok {
		m.Content = updated.Content
		m.UpdatedAt = updated.UpdatedAt
		e.live[messageID] = m
	}
	convID := updated.ConversationID
	e.mu.Unlock()

	e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: convID})
	e.saveHistory([]models.Message{*updated})
	return nil
}

// DeleteMessage removes a message on the server and from local state.
func (e *Engine) DeleteMessage(ctx context.Context, messageID uint) error {
	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.src.DeleteMessage(reqCtx, messageID); err != nil {
		return err
	}

	e.mu.Lock()
	convID := e.openID
	delete(e.live, messageID)
	for i := range e.messages {
		if e.messages[i].ID == messageID {
			e.messages = append(e.messages[:i:i], e.messages[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if e.history != nil {
		if err := e.history.DeleteMessage(messageID); err != nil {
			e.log.LogBestEffortFailure(ctx, "history_delete", err)
		}
	}
	e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: convID})
	return nil
}

// DeleteConversation removes a conversation everywhere. Deleting the open
// conversation clears the thread.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID uint) error {
	reqCtx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.src.DeleteConversation(reqCtx, conversationID); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conversations, conversationID)
	wasOpen := e.openID == conversationID
	if wasOpen {
		e.openID = 0
		e.epoch++
		e.loaded = false
		e.messages = nil
		e.live = make(map[uint]models.Message)
		e.typing = make(map[uint]typingEntry)
	}
	e.mu.Unlock()

	if e.tr != nil && wasOpen {
		if err := e.tr.Leave(conversationID); err != nil {
			e.log.LogBestEffortFailure(ctx, "leave_channel", err)
		}
	}
	if e.history != nil {
		if err := e.history.DeleteConversation(conversationID); err != nil {
			e.log.LogBestEffortFailure(ctx, "history_delete", err)
		}
	}
	e.bus.Publish(Event{Type: EventConversationsUpdated})
	if wasOpen {
		e.bus.Publish(Event{Type: EventThreadUpdated})
	}
	return nil
}

// SendTyping publishes the local user's typing state for the open
// conversation.
func (e *Engine) SendTyping(isTyping bool) error {
	e.mu.Lock()
	openID := e.openID
	e.mu.Unlock()
	if e.tr == nil || openID == 0 {
		return nil
	}
	return e.tr.SendTyping(openID, isTyping)
}

// HandleMessage merges a pushed message. Implements transport.Handler.
func (e *Engine) HandleMessage(msg models.Message) {
	e.mu.Lock()
	inserted := false
	typingCleared := false
	if msg.ConversationID == e.openID {
		inserted = e.dedupInsertLocked(msg, "push")
		// A message from a typing user supersedes their indicator.
		if _, ok := e.typing[msg.SenderID]; ok {
			delete(e.typing, msg.SenderID)
			typingCleared = true
		}
		// The user is looking at this thread, so a counterparty message
		// never shows as unread.
	} else if msg.SenderID != e.user.ID {
		if c, ok := e.conversations[msg.ConversationID]; ok {
			c.UnreadCount++
			e.touchLocked(&c, msg)
			e.conversations[msg.ConversationID] = c
			e.mu.Unlock()
			e.bus.Publish(Event{Type: EventConversationsUpdated})
			e.saveHistory([]models.Message{msg})
			return
		}
		// Unknown conversation: record a stub so the list shows it until
		// the next full load fills in participants.
		stub := models.Conversation{ID: msg.ConversationID, UnreadCount: 1}
		e.touchLocked(&stub, msg)
		e.conversations[msg.ConversationID] = stub
		e.mu.Unlock()
		e.bus.Publish(Event{Type: EventConversationsUpdated})
		e.saveHistory([]models.Message{msg})
		return
	}
	e.touchConversationLocked(msg)
	openID := e.openID
	e.mu.Unlock()

	if inserted {
		e.bus.Publish(Event{Type: EventThreadUpdated, ConversationID: openID})
		if msg.SenderID != e.user.ID {
			e.markReadAsync(msg.ConversationID)
		}
	}
	if typingCleared {
		e.bus.Publish(Event{Type: EventTypingChanged, ConversationID: openID})
	}
	e.bus.Publish(Event{Type: EventConversationsUpdated})
	e.saveHistory([]models.Message{msg})
}

// HandleTyping records a typing indicator. Implements transport.Handler.
func (e *Engine) HandleTyping(ev models.TypingEvent) {
	e.mu.Lock()
	if ev.ConversationID != e.openID || ev.UserID == e.user.ID {
		e.mu.Unlock()
		return
	}
	if ev.IsTyping {
		e.typing[ev.UserID] = typingEntry{
			username:  ev.Username,
			expiresAt: time.Now().Add(typingExpiry),
		}
		// Re-publish when the indicator would expire so readers drop it.
		time.AfterFunc(typingExpiry+50*time.Millisecond, func() {
			e.bus.Publish(Event{Type: EventTypingChanged, ConversationID: ev.ConversationID})
		})
	} else {
		delete(e.typing, ev.UserID)
	}
	convID := e.openID
	e.mu.Unlock()

	e.bus.Publish(Event{Type: EventTypingChanged, ConversationID: convID})
}

// Conversations returns the conversation list, most recently active first.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Messages returns a copy of the open thread, ascending by CreatedAt.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// TypingUsers returns the usernames currently typing in the open thread.
func (e *Engine) TypingUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(e.typing))
	for id, entry := range e.typing {
		if now.After(entry.expiresAt) {
			delete(e.typing, id)
			continue
		}
		out = append(out, entry.username)
	}
	sort.Strings(out)
	return out
}

// OpenID returns the open conversation's id, zero when none is open.
func (e *Engine) OpenID() uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openID
}

// dedupInsertLocked merges one message into the open thread. A message whose
// id is already present is dropped, otherwise it is inserted at its CreatedAt
// position. Non-fetch arrivals are remembered so they survive the fetch
// replacing the thread. Reports whether the message was inserted.
func (e *Engine) dedupInsertLocked(msg models.Message, channel string) bool {
	if e.containsLocked(msg.ID) {
		observability.DedupDrops.WithLabelValues(channel).Inc()
		return false
	}
	e.insertLocked(msg)
	observability.MessagesReconciled.WithLabelValues(channel).Inc()
	if channel != "fetch" {
		e.live[msg.ID] = msg
	}
	return true
}

func (e *Engine) containsLocked(id uint) bool {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) insertLocked(msg models.Message) {
	pos := len(e.messages)
	for pos > 0 && msg.CreatedAt.Before(e.messages[pos-1].CreatedAt) {
		pos--
	}
	e.messages = append(e.messages, models.Message{})
	copy(e.messages[pos+1:], e.messages[pos:])
	e.messages[pos] = msg
}

// touchConversationLocked refreshes the summary for msg's conversation.
func (e *Engine) touchConversationLocked(msg models.Message) {
	c, ok := e.conversations[msg.ConversationID]
	if !ok {
		return
	}
	e.touchLocked(&c, msg)
	e.conversations[msg.ConversationID] = c
}

func (e *Engine) touchLocked(c *models.Conversation, msg models.Message) {
	if c.LastMessage == nil || !msg.CreatedAt.Before(c.LastMessage.CreatedAt) {
		last := msg
		c.LastMessage = &last
	}
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
}

// saveHistory persists messages to the local cache in the background.
func (e *Engine) saveHistory(msgs []models.Message) {
	if e.history == nil || len(msgs) == 0 {
		return
	}
	go func() {
		if err := e.history.SaveMessages(msgs); err != nil {
			e.log.LogBestEffortFailure(context.Background(), "history_save", err)
		}
	}()
}
