package companion

import (
	"context"

	"github.com/suPer8Hu/companion-chat/internal/common"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, c *Companion) error {
	if c.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		c.ID = id
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*Companion, error) {
	var c Companion
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOwned hides companions of other users behind gorm.ErrRecordNotFound.
func (r *Repo) GetOwned(ctx context.Context, ownerID, id string) (*Companion, error) {
	var c Companion
	if err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByOwner returns companions oldest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]Companion, error) {
	var out []Companion
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, c *Companion) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repo) Delete(ctx context.Context, ownerID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&Companion{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
