package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cafeteria/internal/service/discount/domain"
)

// GormStore implements domain.TransactionStore, domain.CafeteriaStore and domain.UserStore.
// The *gorm.DB must be opened with TranslateError so that unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the discount tables.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return errors.Wrap(s.db.WithContext(ctx).AutoMigrate(Models()...), "migrate discount schema")
}

func (s *GormStore) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "query user %d", id)
	}
	return ToDomainUser(&model), nil
}

func (s *GormStore) GetCafeteriaByID(ctx context.Context, id int64) (*domain.Cafeteria, error) {
	var model CafeteriaModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "query cafeteria %d", id)
	}
	return ToDomainCafeteria(&model), nil
}

func (s *GormStore) GetCafeteriaDiscountRule(ctx context.Context, cafeteriaID int64) (*domain.CafeteriaDiscountRule, error) {
	var model CafeteriaDiscountRuleModel
	err := s.db.WithContext(ctx).Where("cafeteria_id = ?", cafeteriaID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "query discount rule of cafeteria %d", cafeteriaID)
	}
	return ToDomainDiscountRule(&model), nil
}

func (s *GormStore) GetUserDiscountStatus(ctx context.Context, userID int64) (*domain.UserDiscountStatus, error) {
	var model UserDiscountStatusModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "query discount status of user %d", userID)
	}
	return ToDomainDiscountStatus(&model), nil
}

func (s *GormStore) GetTodaysTransactions(ctx context.Context, userID int64, now time.Time) ([]*domain.DiscountTransaction, error) {
	var models []DiscountTransactionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND discount_date = ?", userID, discountDate(now)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query today's transactions of user %d", userID)
	}

	out := make([]*domain.DiscountTransaction, 0, len(models))
	for i := range models {
		out = append(out, ToDomainTransaction(&models[i]))
	}
	return out, nil
}

func (s *GormStore) WriteTransaction(ctx context.Context, tx *domain.DiscountTransaction) error {
	model := FromDomainTransaction(tx)
	model.ID = 0
	err := s.db.WithContext(ctx).Create(model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrapf(domain.ErrTransactionExists, "user %d cafeteria %d on %s", tx.UserID, tx.CafeteriaID, model.DiscountDate)
		}
		return errors.Wrapf(err, "insert discount transaction of user %d", tx.UserID)
	}
	tx.ID = model.ID
	return nil
}

func (s *GormStore) RemoveTransaction(ctx context.Context, tx *domain.DiscountTransaction) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND cafeteria_id = ? AND discount_date = ?", tx.UserID, tx.CafeteriaID, discountDate(tx.Timestamp)).
		Delete(&DiscountTransactionModel{}).Error
	return errors.Wrapf(err, "delete discount transaction of user %d", tx.UserID)
}

func (s *GormStore) SetLastActivation(ctx context.Context, userID int64, now time.Time) error {
	model := &UserDiscountStatusModel{
		UserID:                userID,
		LastBarcodeActivation: sql.NullTime{Time: now, Valid: true},
	}
	return errors.Wrapf(s.upsertStatus(ctx, model, "last_barcode_activation"), "set last activation of user %d", userID)
}

func (s *GormStore) SetLastTagging(ctx context.Context, userID int64, now time.Time) error {
	model := &UserDiscountStatusModel{
		UserID:             userID,
		LastBarcodeTagging: sql.NullTime{Time: now, Valid: true},
	}
	return errors.Wrapf(s.upsertStatus(ctx, model, "last_barcode_tagging"), "set last tagging of user %d", userID)
}

// upsertStatus 插入状态行；已存在时只更新 column 列
func (s *GormStore) upsertStatus(ctx context.Context, model *UserDiscountStatusModel, column string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(model).Error
}
