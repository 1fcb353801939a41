package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/storage"
)

// Delivery is a freshly created notification plus the audiences it targets
// beyond its recipient.
type Delivery struct {
	Notification Notification
	BranchID     string
	Role         string
}

// Subscriber receives notifications in real-time
type Subscriber interface {
	Send(d Delivery) error
	ID() string
}

// Service manages notifications
type Service struct {
	db          *storage.DB
	now         func() time.Time
	subscribers map[string]Subscriber
	mu          sync.RWMutex
}

// NewService creates a new notification service
func NewService(db *storage.DB) *Service {
	return &Service{
		db:          db,
		now:         time.Now,
		subscribers: make(map[string]Subscriber),
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Subscribe adds a subscriber for real-time notifications
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// CreateRequest for creating new notifications
type CreateRequest struct {
	UserID     string         `json:"user_id"`
	BranchID   string         `json:"branch_id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Category   string         `json:"category,omitempty"`
	ActionURL  string         `json:"action_url,omitempty"`
	ActionText string         `json:"action_text,omitempty"`
	SenderName string         `json:"sender_name,omitempty"`
	SenderRole string         `json:"sender_role,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ExpiresIn  time.Duration  `json:"expires_in,omitempty"`
}

// Create persists a notification and hands it to every subscriber.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id", core.ErrMissingRequired)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title", core.ErrMissingRequired)
	}
	if req.Type == "" {
		req.Type = "general"
	}

	now := s.now().UTC()
	n := &Notification{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		Priority:   ParsePriority(req.Priority),
		Category:   req.Category,
		Timestamp:  now,
		ActionURL:  req.ActionURL,
		ActionText: req.ActionText,
		SenderName: req.SenderName,
		SenderRole: req.SenderRole,
		Data:       req.Data,
	}
	if req.ExpiresIn > 0 {
		expires := now.Add(req.ExpiresIn)
		n.ExpiresAt = &expires
	}

	if err := s.save(ctx, n); err != nil {
		return nil, fmt.Errorf("save notification: %w", err)
	}

	s.broadcast(Delivery{Notification: *n, BranchID: req.BranchID, Role: req.Role})

	return n, nil
}

// notificationRow mirrors the notifications table
type notificationRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	Type       string       `db:"type"`
	Title      string       `db:"title"`
	Message    string       `db:"message"`
	Priority   string       `db:"priority"`
	Category   string       `db:"category"`
	ActionURL  string       `db:"action_url"`
	ActionText string       `db:"action_text"`
	SenderName string       `db:"sender_name"`
	SenderRole string       `db:"sender_role"`
	Data       string       `db:"data"`
	IsRead     bool         `db:"is_read"`
	IsClicked  bool         `db:"is_clicked"`
	CreatedAt  time.Time    `db:"created_at"`
	ReadAt     sql.NullTime `db:"read_at"`
	ExpiresAt  sql.NullTime `db:"expires_at"`
}

func (r notificationRow) notification() Notification {
	n := Notification{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       r.Type,
		Title:      r.Title,
		Message:    r.Message,
		Priority:   ParsePriority(r.Priority),
		Category:   r.Category,
		Timestamp:  r.CreatedAt,
		Read:       r.IsRead,
		Clicked:    r.IsClicked,
		ActionURL:  r.ActionURL,
		ActionText: r.ActionText,
		SenderName: r.SenderName,
		SenderRole: r.SenderRole,
	}
	if r.Data != "" {
		json.Unmarshal([]byte(r.Data), &n.Data)
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		n.ExpiresAt = &t
	}
	return n
}

const selectColumns = `id, user_id, type, title, message, priority, category, action_url, action_text,
	sender_name, sender_role, data, is_read, is_clicked, created_at, read_at, expires_at`

// save persists a notification to the database
func (s *Service) save(ctx context.Context, n *Notification) error {
	data := ""
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("%w: data: %v", core.ErrInvalidInput, err)
		}
		data = string(raw)
	}

	var expiresAt sql.NullTime
	if n.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: n.ExpiresAt.UTC(), Valid: true}
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, priority, category, action_url, action_text,
			sender_name, sender_role, data, is_read, is_clicked, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, string(n.Priority), n.Category, n.ActionURL, n.ActionText,
		n.SenderName, n.SenderRole, data, n.Read, n.Clicked, n.Timestamp.UTC(), expiresAt)

	return err
}

// broadcast sends notification to all subscribers
func (s *Service) broadcast(d Delivery) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		go func(subscriber Subscriber) {
			subscriber.Send(d)
		}(sub)
	}
}

// Get retrieves one of the user's notifications by ID
func (s *Service) Get(ctx context.Context, userID, id string) (*Notification, error) {
	var row notificationRow
	err := s.db.Conn().GetContext(ctx, &row,
		`SELECT `+selectColumns+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification %s", core.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	n := row.notification()
	return &n, nil
}

// Filter for listing notifications
type Filter struct {
	UserID     string
	UnreadOnly bool
	Priority   Priority
	Category   string
	Limit      int
	Offset     int
}

// List returns the user's live notifications, most recent first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Notification, error) {
	query := `SELECT ` + selectColumns + ` FROM notifications WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)`
	args := []interface{}{filter.UserID, s.now().UTC()}

	if filter.UnreadOnly {
		query += " AND is_read = FALSE"
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}

	query += " ORDER BY created_at DESC"

	// A negative limit means no limit.
	switch {
	case filter.Limit > 0:
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	case filter.Limit == 0:
		query += " LIMIT 50"
	default:
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	var rows []notificationRow
	if err := s.db.Conn().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	list := make([]Notification, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.notification())
	}
	return list, nil
}

// MarkRead marks one of the user's notifications as read
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?
	`, s.now().UTC(), id, userID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: notification %s", core.ErrRecordNotFound, id)
	}
	return nil
}

// MarkAllRead marks all of the user's notifications as read and returns how
// many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = ? WHERE user_id = ? AND is_read = FALSE
	`, s.now().UTC(), userID)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// MarkClicked records that the user followed the notification's action.
func (s *Service) MarkClicked(ctx context.Context, userID, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE notifications SET is_clicked = TRUE WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: notification %s", core.ErrRecordNotFound, id)
	}
	return nil
}

// Stats returns the same derived counters the client computes.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	list, err := s.List(ctx, Filter{UserID: userID, Limit: -1})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(list, s.now()), nil
}

// Cleanup removes expired notifications
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	result, err := s.db.Conn().ExecContext(ctx, `
		DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
