package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// MessageType tags a message by how it was produced. It is the only field
// that may be classified after the fact; everything else is immutable once
// persisted.
type MessageType string

const (
	TypeCommand      MessageType = "command"
	TypeConversation MessageType = "conversation"
)

// Message is one persisted conversation turn.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	UserID         string      `json:"user_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	FunctionCall   string      `json:"function_call,omitempty"`
	MessageType    MessageType `json:"message_type"`
	CreatedAt      time.Time   `json:"created_at"`
	TokenCount     int         `json:"token_count,omitempty"`
	EstimatedCost  float64     `json:"estimated_cost,omitempty"`
}

// ConversationStats is a derived aggregate over one conversation.
// It is computed on demand and never persisted.
type ConversationStats struct {
	TotalMessages     int       `json:"total_messages"`
	UserMessages      int       `json:"user_messages"`
	AssistantMessages int       `json:"assistant_messages"`
	TotalTokens       int       `json:"total_tokens"`
	EstimatedCost     float64   `json:"estimated_cost"`
	FirstMessageDate  time.Time `json:"first_message_date"`
	LastMessageDate   time.Time `json:"last_message_date"`
}

// keyedMutex serializes writes per (user, conversation) so concurrent turns
// of the same conversation cannot interleave history.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (km *keyedMutex) get(key string) *sync.Mutex {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.locks == nil {
		km.locks = make(map[string]*sync.Mutex)
	}
	if m, ok := km.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	km.locks[key] = m
	return m
}

// AppendMessage persists a message, assigning an id and timestamp if unset.
// Writes for the same (user, conversation) are serialized.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.UserID == "" || msg.ConversationID == "" {
		return queryErr("append message", fmt.Errorf("user id and conversation id are required"))
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = TypeConversation
	}

	lock := s.writeLocks.get(msg.UserID + ":" + msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages
				(id, conversation_id, user_id, role, content, function_call,
				 message_type, created_at, token_count, estimated_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), msg.Content,
			nullString(msg.FunctionCall), string(msg.MessageType), msg.CreatedAt,
			msg.TokenCount, msg.EstimatedCost,
		)
		return err
	})
	return queryErr("append message", err)
}

// ClassifyMessage applies the late-bound message type tag. This is the only
// permitted mutation of a persisted message.
func (s *Store) ClassifyMessage(ctx context.Context, userID, messageID string, t MessageType) error {
	err := withRetry(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET message_type = ? WHERE id = ? AND user_id = ?`,
			string(t), messageID, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	return queryErr("classify message", err)
}

// RecentMessages returns up to limit messages for one conversation in
// chronological order. The query runs against the
// (user_id, conversation_id, created_at) index; it fetches the most recent
// limit rows and re-orders them ascending in memory.
func (s *Store) RecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var msgs []Message
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, conversation_id, user_id, role, content, function_call,
			       message_type, created_at, token_count, estimated_cost
			FROM messages
			WHERE user_id = ? AND conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?`,
			userID, conversationID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		msgs = msgs[:0]
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("recent messages", err)
	}

	// Reverse from newest-first to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Stats aggregates one conversation in a single indexed pass.
func (s *Store) Stats(ctx context.Context, userID, conversationID string) (*ConversationStats, error) {
	var stats ConversationStats
	err := withRetry(func() error {
		var first, last sql.NullTime
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(token_count), 0),
			       COALESCE(SUM(estimated_cost), 0),
			       MIN(created_at),
			       MAX(created_at)
			FROM messages
			WHERE user_id = ? AND conversation_id = ?`,
			userID, conversationID).Scan(
			&stats.TotalMessages, &stats.UserMessages, &stats.AssistantMessages,
			&stats.TotalTokens, &stats.EstimatedCost, &first, &last)
		if err != nil {
			return err
		}
		if first.Valid {
			stats.FirstMessageDate = first.Time
		}
		if last.Valid {
			stats.LastMessageDate = last.Time
		}
		return nil
	})
	if err != nil {
		return nil, queryErr("conversation stats", err)
	}
	return &stats, nil
}

// ConversationIDs returns the distinct conversation ids for a user,
// ordered by most recent activity descending.
func (s *Store) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT conversation_id
			FROM messages
			WHERE user_id = ?
			GROUP BY conversation_id
			ORDER BY MAX(created_at) DESC`,
			userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("conversation ids", err)
	}
	return ids, nil
}

// PruneOldConversations deletes all messages belonging to conversations
// beyond the keepLast most recently active ones. Deletion is transactional
// per call and idempotent: pruning twice leaves the same state as once.
func (s *Store) PruneOldConversations(ctx context.Context, userID string, keepLast int) (int, error) {
	if keepLast < 0 {
		keepLast = 0
	}

	ids, err := s.ConversationIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) <= keepLast {
		return 0, nil
	}
	stale := ids[keepLast:]

	var deleted int64
	err = withRetry(func() error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			deleted = 0
			for _, convID := range stale {
				res, err := tx.ExecContext(ctx,
					`DELETE FROM messages WHERE user_id = ? AND conversation_id = ?`,
					userID, convID)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				deleted += n
			}
			return nil
		})
	})
	if err != nil {
		return 0, queryErr("prune conversations", err)
	}
	return int(deleted), nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanMessage.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (Message, error) {
	var (
		m       Message
		fnCall  sql.NullString
		tokens  sql.NullInt64
		cost    sql.NullFloat64
		role    string
		msgType string
	)
	err := sc.Scan(&m.ID, &m.ConversationID, &m.UserID, &role, &m.Content,
		&fnCall, &msgType, &m.CreatedAt, &tokens, &cost)
	if err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.MessageType = MessageType(msgType)
	if fnCall.Valid {
		m.FunctionCall = fnCall.String
	}
	if tokens.Valid {
		m.TokenCount = int(tokens.Int64)
	}
	if cost.Valid {
		m.EstimatedCost = cost.Float64
	}
	return m, nil
}

// nullString converts empty strings to NULL for storage.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
