package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InsertMessage(ctx context.Context, m *StoredMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetBySeq(ctx context.Context, sessionID string, seq uint64) (*StoredMessage, error) {
	var m StoredMessage
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND seq = ?", sessionID, seq).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertOrGetExisting inserts m, or returns the row already stored for
// (session_id, seq). Redelivered queue messages land here.
func (r *Repo) InsertOrGetExisting(ctx context.Context, m *StoredMessage) (*StoredMessage, bool, error) {
	err := r.db.WithContext(ctx).Create(m).Error
	if err == nil {
		return m, true, nil
	}

	existing, getErr := r.GetBySeq(ctx, m.SessionID, m.Seq)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// ListByPair returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListByPair(ctx context.Context, userID, companionID string, limit int, beforeID uint64) ([]StoredMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND companion_id = ?", userID, companionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []StoredMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead reports whether a row was updated.
func (r *Repo) MarkRead(ctx context.Context, sessionID string, seq uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&StoredMessage{}).
		Where("session_id = ? AND seq = ? AND author = ?", sessionID, seq, string(AuthorUser)).
		Update("read", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Apply writes a session event. A read receipt that overtakes its message
// inserts the message as already read.
func (r *Repo) Apply(ctx context.Context, e Event) error {
	if e.Message == nil {
		return nil
	}
	switch e.Type {
	case EventMessage:
		_, _, err := r.InsertOrGetExisting(ctx, storedFromEvent(e))
		return err
	case EventRead:
		stored, created, err := r.InsertOrGetExisting(ctx, storedFromEvent(e))
		if err != nil {
			return err
		}
		if created || stored.Read {
			return nil
		}
		_, err = r.MarkRead(ctx, e.SessionID, e.Message.ID)
		return err
	default:
		return nil
	}
}
