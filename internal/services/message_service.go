package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
	"moqpools/internal/repos"
)

var ErrNotYours = errors.New("conversation belongs to another user")

// MessageService handles buyer/admin threads attached to pools.
type MessageService struct {
	Messages *repos.MessageRepo
	Pools    *repos.PoolRepo
}

func NewMessageService(messages *repos.MessageRepo, pools *repos.PoolRepo) *MessageService {
	return &MessageService{Messages: messages, Pools: pools}
}

// Open starts a thread on a pool and records its first message.
func (s *MessageService) Open(poolID, userID, subject, body string) (domain.Conversation, error) {
	if _, err := s.Pools.Get(poolID); err != nil {
		return domain.Conversation{}, fmt.Errorf("messages: pool %s: %w", poolID, err)
	}
	c := domain.Conversation{
		ID:      "conv-" + uuid.NewString(),
		PoolID:  poolID,
		UserID:  userID,
		Subject: subject,
	}
	if err := s.Messages.CreateConversation(c); err != nil {
		return domain.Conversation{}, err
	}
	if _, err := s.post(c, userID, "USER", body); err != nil {
		return domain.Conversation{}, err
	}
	applog.Audit(nil, "messages.open", map[string]any{"conversation": c.ID, "pool": poolID})
	return c, nil
}

// Reply posts into an existing thread. Non-admin senders must own the thread.
func (s *MessageService) Reply(conversationID, senderID, role, body string) (domain.Message, error) {
	c, err := s.Messages.GetConversation(conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if role != "ADMIN" && c.UserID != senderID {
		return domain.Message{}, ErrNotYours
	}
	return s.post(c, senderID, role, body)
}

func (s *MessageService) post(c domain.Conversation, senderID, role, body string) (domain.Message, error) {
	m := domain.Message{
		ID:             "msg-" + uuid.NewString(),
		ConversationID: c.ID,
		SenderID:       senderID,
		SenderRole:     role,
		Body:           body,
	}
	if err := s.Messages.InsertMessage(m); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// Thread returns a conversation with its messages, enforcing ownership for
// non-admin viewers.
func (s *MessageService) Thread(conversationID, viewerID string, admin bool) (domain.Conversation, []domain.Message, error) {
	c, err := s.Messages.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	if !admin && c.UserID != viewerID {
		return domain.Conversation{}, nil, ErrNotYours
	}
	msgs, err := s.Messages.Messages(conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	return c, msgs, nil
}

func (s *MessageService) ForUser(userID string) ([]domain.Conversation, error) {
	return s.Messages.ConversationsByUser(userID)
}

func (s *MessageService) ForPool(poolID string) ([]domain.Conversation, error) {
	return s.Messages.ConversationsByPool(poolID)
}
