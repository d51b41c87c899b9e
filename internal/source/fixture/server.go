package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"gigsync/internal/auth"
	"gigsync/internal/models"
	"gigsync/internal/observability"
	"gigsync/internal/source"
)

var (
	promOnce       sync.Once
	promMiddleware *fiberprometheus.FiberPrometheus
)

// Server exposes the fixture store over the same REST contract the live API
// speaks, plus a websocket push endpoint. Integration tests point the real
// api.Client and websocket transport at it.
type Server struct {
	app    *fiber.App
	store  *Store
	secret string
	hub    *hub
	log    *observability.TransportLogger

	mu sync.Mutex
	ln net.Listener
}

// NewServer wires a fiber app around the store. Tokens issued by the login
// endpoint are signed with secret.
func NewServer(store *Store, secret string) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "gigsync-fixture",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return models.RespondWithError(c, err)
		},
	})

	s := &Server{
		app:    app,
		store:  store,
		secret: secret,
		hub:    newHub(),
		log:    observability.NewTransportLogger("fixture"),
	}

	// Collectors live in the default registry, so the middleware is created
	// once even when several servers run in one process.
	promOnce.Do(func() {
		promMiddleware = fiberprometheus.New("gigsync_fixture")
	})
	promMiddleware.RegisterAt(app, "/metrics")
	app.Use(promMiddleware.Middleware)

	app.Post("/api/auth/login", s.handleLogin)

	api := app.Group("/api", s.requireAuth)
	api.Get("/conversations", s.handleConversations)
	api.Get("/conversations/:id/messages", s.handleMessages)
	api.Post("/conversations/:id/messages", s.handleSendMessage)
	api.Post("/conversations/:id/read", s.handleMarkRead)
	api.Delete("/conversations/:id", s.handleDeleteConversation)
	api.Put("/messages/:id", s.handleEditMessage)
	api.Delete("/messages/:id", s.handleDeleteMessage)
	api.Post("/unread-counts", s.handleUnreadCounts)
	api.Post("/uploads", s.handleUpload)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(s.handleWS))

	// Every append, whether via REST or injected server-side, is pushed to
	// subscribers of that conversation.
	store.OnAppend(func(msg models.Message) {
		s.hub.broadcast(msg.ConversationID, frame{
			Type:           "message",
			ConversationID: msg.ConversationID,
			Payload:        mustMarshal(msg),
		})
	})

	return s
}

// Start listens on an ephemeral loopback port and serves in the background.
// It returns the base URL, e.g. "http://127.0.0.1:49152".
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.log.LogError(context.Background(), err, "serve")
		}
	}()
	return "http://" + ln.Addr().String(), nil
}

// Shutdown stops the server and drops all websocket subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	userID, ok := s.store.CheckPassword(req.Username, req.Password)
	if !ok {
		return models.NewUnauthorizedError("Invalid credentials")
	}
	token, err := auth.IssueToken(auth.LocalUser{ID: userID, Username: req.Username}, s.secret)
	if err != nil {
		return models.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"token": token})
}

// requireAuth validates the bearer token and stores the caller's id.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := bearerToken(c.Get("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return models.NewUnauthorizedError("Missing authorization token")
	}
	user, err := auth.FromToken(token, s.secret)
	if err != nil {
		return err
	}
	c.Locals("userID", user.ID)
	return c.Next()
}

func (s *Server) handleConversations(c *fiber.Ctx) error {
	convs, err := s.store.Conversations(c.Context())
	if err != nil {
		return err
	}
	// Enveloped form. The messages endpoint returns a bare array so both
	// response shapes stay exercised.
	return c.JSON(fiber.Map{"data": convs})
}

func (s *Server) handleMessages(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid conversation ID")
	}
	msgs, err := s.store.Messages(c.Context(), uint(id))
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid conversation ID")
	}
	var in source.SendInput
	if err := c.BodyParser(&in); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	in.ConversationID = uint(id)

	userID, _ := c.Locals("userID").(uint)
	var msg *models.Message
	if userID == s.store.LocalUser() {
		msg, err = s.store.SendMessage(c.Context(), in)
	} else {
		var m models.Message
		m, err = s.store.AppendIncoming(in.ConversationID, userID, in.Content)
		msg = &m
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": msg})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid conversation ID")
	}
	userID, _ := c.Locals("userID").(uint)
	s.store.MarkReadBy(uint(id), userID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid conversation ID")
	}
	if err := s.store.DeleteConversation(c.Context(), uint(id)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleEditMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid message ID")
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	msg, err := s.store.EditMessage(c.Context(), uint(id), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": msg})
}

func (s *Server) handleDeleteMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return models.NewValidationError("Invalid message ID")
	}
	if err := s.store.DeleteMessage(c.Context(), uint(id)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleUnreadCounts(c *fiber.Ctx) error {
	var req struct {
		ConversationIDs []uint `json:"conversation_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	counts, err := s.store.UnreadCounts(c.Context(), req.ConversationIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"counts": counts})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return models.NewValidationError("Missing file")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return models.NewUploadError(err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.NewUploadError(err)
	}

	mimeType := c.FormValue("mime_type")
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}
	result, err := s.store.Upload(c.Context(), models.Attachment{
		FileName: fileHeader.Filename,
		MIMEType: mimeType,
		Data:     data,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": result})
}

// frame is the websocket wire format shared with the client transport.
type frame struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversation_id,omitempty"`
	UserID         uint            `json:"user_id,omitempty"`
	Username       string          `json:"username,omitempty"`
	IsTyping       bool            `json:"is_typing,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleWS(conn *websocket.Conn) {
	token := conn.Query("token")
	user, err := auth.FromToken(token, s.secret)
	if err != nil {
		_ = conn.WriteJSON(frame{Type: "error"})
		_ = conn.Close()
		return
	}

	client := s.hub.register(conn)
	s.log.LogConnect(context.Background(), conn.RemoteAddr().String())
	defer func() {
		s.hub.unregister(client)
		_ = conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "join":
			s.hub.join(client, f.ConversationID)
			s.log.LogChannel(context.Background(), "join", f.ConversationID)
		case "leave":
			s.hub.leave(client, f.ConversationID)
			s.log.LogChannel(context.Background(), "leave", f.ConversationID)
		case "typing":
			s.hub.broadcastExcept(f.ConversationID, client, frame{
				Type:           "typing",
				ConversationID: f.ConversationID,
				UserID:         user.ID,
				Username:       s.store.Username(user.ID),
				IsTyping:       f.IsTyping,
			})
		}
	}
}

// hub tracks which websocket connections joined which conversations.
type hub struct {
	mu      sync.RWMutex
	members map[uint]map[*wsClient]struct{}
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newHub() *hub {
	return &hub{members: make(map[uint]map[*wsClient]struct{})}
}

func (h *hub) register(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID, set := range h.members {
		delete(set, c)
		if len(set) == 0 {
			delete(h.members, convID)
		}
	}
}

func (h *hub) join(c *wsClient, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.members[conversationID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.members[conversationID] = set
	}
	set[c] = struct{}{}
}

func (h *hub) leave(c *wsClient, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.members[conversationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.members, conversationID)
		}
	}
}

func (h *hub) broadcast(conversationID uint, f frame) {
	h.broadcastExcept(conversationID, nil, f)
}

func (h *hub) broadcastExcept(conversationID uint, skip *wsClient, f frame) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.members[conversationID]))
	for c := range h.members[conversationID] {
		if c != skip {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteJSON(f)
		c.mu.Unlock()
	}
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return b
}
