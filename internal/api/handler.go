package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/talknow/internal/chat"
	"github.com/RichardoC/talknow/internal/models"
	"github.com/RichardoC/talknow/internal/render"
)

// SessionCookie carries the session id between the page and the API.
const SessionCookie = "talknow_session"

const maxBodyBytes = 64 << 10

type Handler struct {
	chat   *chat.Service
	html   *render.HTML
	logger *zap.Logger
}

func NewHandler(chatService *chat.Service, html *render.HTML, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:   chatService,
		html:   html,
		logger: logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// RenderedMessage is a stored message plus its HTML view.
type RenderedMessage struct {
	Message models.Message `json:"message"`
	HTML    template.HTML  `json:"html"`
}

type MessagesResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []RenderedMessage    `json:"messages"`
}

type MessageResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	User         RenderedMessage      `json:"user"`
	Assistant    RenderedMessage      `json:"assistant"`
}

var errNoSession = errors.New("not logged in")

// Routes registers the API and the static page on a new mux.
func (h *Handler) Routes(static http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", h.Login)
	mux.HandleFunc("/api/logout", h.Logout)
	mux.HandleFunc("/api/session", h.GetSession)
	mux.HandleFunc("/api/conversations", h.GetConversations)
	mux.HandleFunc("/api/conversations/delete", h.DeleteConversation)
	mux.HandleFunc("/api/conversations/update", h.UpdateConversation)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/message", h.HandleMessage)
	if static != nil {
		mux.Handle("/", static)
	}
	return mux
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.chat.Login(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := h.chat.Logout(r.Context(), c.Value); err != nil && !errors.Is(err, chat.ErrNotFound) {
			h.fail(w, r, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// GetConversations lists conversations on GET and starts a new one on POST.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		conversations, err := h.chat.Conversations(r.Context(), sess.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if conversations == nil {
			conversations = []models.Conversation{}
		}

		h.logger.Debug("Retrieved conversations",
			zap.Int("count", len(conversations)),
			zap.String("session", sess.ID))
		h.writeJSON(w, http.StatusOK, conversations)

	case http.MethodPost:
		conversation, err := h.chat.NewConversation(r.Context(), sess.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, conversation)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.chat.Conversation(r.Context(), sess.ID, convID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := MessagesResponse{Messages: make([]RenderedMessage, 0, len(conv.Messages))}
	for _, m := range conv.Messages {
		rendered, err := h.render(m)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp.Messages = append(resp.Messages, rendered)
	}
	conv.Messages = nil
	resp.Conversation = conv
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleMessage sends a user message. Without conversation_id a new
// conversation is started.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.chat.Send(r.Context(), sess.ID, r.URL.Query().Get("conversation_id"), req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.render(res.User)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	assistant, err := h.render(res.Assistant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Conversation: res.Conversation,
		User:         user,
		Assistant:    assistant,
	})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.chat.DeleteConversation(r.Context(), sess.ID, convID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.chat.RenameConversation(r.Context(), sess.ID, convID, req.Title); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		h.fail(w, r, errNoSession)
		return nil, false
	}
	sess, err := h.chat.Session(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			err = errNoSession
		}
		h.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("conversation_id")
	if id == "" {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) render(m models.Message) (RenderedMessage, error) {
	out, err := h.html.Message(m)
	if err != nil {
		return RenderedMessage{}, err
	}
	return RenderedMessage{Message: m, HTML: out}, nil
}

// fail maps service errors onto status codes. Anything unexpected is logged
// and reported as a 500 without details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoSession):
		http.Error(w, "Not logged in", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrEmptyUsername),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrEmptyTitle):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Request failed",
			zap.Error(err),
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
