// Package chat owns the application state of TalkNow: sessions, their
// conversations and the messages exchanged with the model. Every change to
// that state goes through a Service method.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardoC/talknow/internal/db"
	"github.com/RichardoC/talknow/internal/llm"
	"github.com/RichardoC/talknow/internal/models"
)

var (
	ErrNotFound      = db.ErrNotFound
	ErrEmptyUsername = errors.New("username is empty")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrEmptyTitle    = errors.New("title is empty")
	// ErrBusy is returned while an earlier message of the same session is
	// still waiting for the model.
	ErrBusy = errors.New("a message is already being answered")
)

const (
	newConversationTitle = "New Chat"
	titleLen             = 30
)

// Store is the persistence the service needs. *db.Database implements it.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, sessionID, id string) (*models.Conversation, error)
	GetConversations(ctx context.Context, sessionID string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, sessionID, id string) error
	UpdateConversationTitle(ctx context.Context, sessionID, id, title string) error
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// Responder answers a user message. *llm.Service implements it.
type Responder interface {
	Respond(ctx context.Context, message string, history []models.Message) llm.Reply
}

// Service holds the sessions and conversations of the chat and runs each
// message through the model. A session sends one message at a time.
type Service struct {
	store  Store
	model  Responder
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService returns a Service backed by store that answers with model.
func NewService(store Store, model Responder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		model:    model,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: make(map[string]struct{}),
	}
}

// Login starts a session for username and seeds it with two sample
// conversations.
func (s *Service) Login(ctx context.Context, username string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	now := s.now()
	sess := &models.Session{ID: uuid.NewString(), Username: username, CreatedAt: now}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	samples := []struct {
		title, message string
		age            time.Duration
	}{
		{"Code Examples", "Show me a React component", 24 * time.Hour},
		{"Data Analysis", "Create a sales data table", 48 * time.Hour},
	}
	for _, sample := range samples {
		at := now.Add(-sample.age)
		conv := &models.Conversation{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Title:     sample.title,
			CreatedAt: at,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to seed conversation: %w", err)
		}
		msg := &models.Message{
			ConvID:    conv.ID,
			Role:      models.RoleUser,
			Content:   models.Text(sample.message),
			CreatedAt: at,
		}
		if err := s.store.SaveMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to seed message: %w", err)
		}
	}

	s.logger.Info("session started", zap.String("session", sess.ID), zap.String("username", username))
	return sess, nil
}

// Logout ends the session and forgets all of its conversations.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session ended", zap.String("session", sessionID))
	return nil
}

func (s *Service) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Conversations lists the session's conversations, newest first.
func (s *Service) Conversations(ctx context.Context, sessionID string) ([]models.Conversation, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetConversations(ctx, sessionID)
}

// NewConversation creates an empty conversation titled "New Chat".
func (s *Service) NewConversation(ctx context.Context, sessionID string) (*models.Conversation, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.createConversation(ctx, sessionID, newConversationTitle)
}

// Conversation returns a conversation with all its messages, oldest first.
func (s *Service) Conversation(ctx context.Context, sessionID, convID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, sessionID, convID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, convID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	conv.Messages = msgs
	return conv, nil
}

func (s *Service) DeleteConversation(ctx context.Context, sessionID, convID string) error {
	return s.store.DeleteConversation(ctx, sessionID, convID)
}

func (s *Service) RenameConversation(ctx context.Context, sessionID, convID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	return s.store.UpdateConversationTitle(ctx, sessionID, convID, title)
}

// SendResult is the state after a message was answered.
type SendResult struct {
	Conversation *models.Conversation `json:"conversation"`
	User         models.Message       `json:"user"`
	Assistant    models.Message       `json:"assistant"`
}

// Send appends text to a conversation and appends the model's answer after
// it. An empty convID starts a new conversation titled after text. Model
// failures are not errors: they are stored as a markdown answer.
func (s *Service) Send(ctx context.Context, sessionID, convID, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if !s.acquire(sessionID) {
		return nil, ErrBusy
	}
	defer s.release(sessionID)

	var (
		conv *models.Conversation
		err  error
	)
	if convID == "" {
		conv, err = s.createConversation(ctx, sessionID, titleFor(text))
	} else {
		conv, err = s.store.GetConversation(ctx, sessionID, convID)
	}
	if err != nil {
		return nil, err
	}

	history, err := s.store.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := models.Message{
		ConvID:    conv.ID,
		Role:      models.RoleUser,
		Content:   models.Text(text),
		CreatedAt: s.now(),
	}
	if err := s.store.SaveMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	reply := s.model.Respond(ctx, text, history)

	aiMsg := models.Message{
		ConvID:    conv.ID,
		Role:      models.RoleAssistant,
		Content:   reply.Content,
		Language:  reply.Language,
		CreatedAt: s.now(),
	}
	// The answer is kept even if the caller went away while waiting.
	if err := s.store.SaveMessage(context.WithoutCancel(ctx), &aiMsg); err != nil {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}

	conv.MessageCount = len(history) + 2
	s.logger.Debug("message answered",
		zap.String("session", sessionID),
		zap.String("conversation", conv.ID),
		zap.String("type", string(aiMsg.Type())))

	return &SendResult{Conversation: conv, User: userMsg, Assistant: aiMsg}, nil
}

func (s *Service) createConversation(ctx context.Context, sessionID, title string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}

// titleFor names a conversation after its first message.
func titleFor(text string) string {
	r := []rune(text)
	if len(r) <= titleLen {
		return text
	}
	return string(r[:titleLen]) + "..."
}
