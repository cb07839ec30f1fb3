package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

const (
	DefaultChatRoom  = "general"
	DefaultChatLimit = 50
	MaxChatLimit     = 200
	maxChatBody      = 2000
)

var chatKinds = map[string]bool{"text": true, "system": true, "alert": true}

type ChatInput struct {
	Room string
	Body string
	Kind string
}

// ChatService only stores and lists messages; nothing is pushed to listeners.
type ChatService struct {
	repo repository.ChatRepository
}

func NewChatService(repo repository.ChatRepository) *ChatService {
	return &ChatService{repo: repo}
}

func (s *ChatService) Post(ctx context.Context, clientID uint, author string, in ChatInput) (*domain.ChatMessage, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, domain.Validation(domain.ReasonInvalidInput, "message body is required")
	}
	if utf8.RuneCountInString(body) > maxChatBody {
		return nil, domain.Validation(domain.ReasonInvalidInput, "message body is too long")
	}
	room, err := normalizeRoom(in.Room)
	if err != nil {
		return nil, err
	}
	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if kind == "" {
		kind = "text"
	}
	if !chatKinds[kind] {
		return nil, domain.Validation(domain.ReasonInvalidInput, "unknown message kind")
	}
	msg := &domain.ChatMessage{
		ClientID: clientID,
		Room:     room,
		Author:   truncate(author, 100),
		Body:     body,
		Kind:     kind,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// List returns the newest limit messages of room, oldest first.
func (s *ChatService) List(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	room, err := normalizeRoom(room)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	if limit > MaxChatLimit {
		limit = MaxChatLimit
	}
	return s.repo.ListRecent(ctx, room, limit)
}

func (s *ChatService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func normalizeRoom(raw string) (string, error) {
	room := strings.ToLower(strings.TrimSpace(raw))
	if room == "" {
		return DefaultChatRoom, nil
	}
	if len(room) > 50 {
		return "", domain.Validation(domain.ReasonInvalidInput, "room name is too long")
	}
	return room, nil
}
