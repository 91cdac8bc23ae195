package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cafeteria/internal/service/discount/domain"
)

var day = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store, db
}

func TestGormStore_MissingRows(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetUserByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, user)

	cafeteria, err := store.GetCafeteriaByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, cafeteria)

	rule, err := store.GetCafeteriaDiscountRule(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, rule)

	status, err := store.GetUserDiscountStatus(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, status)

	txs, err := store.GetTodaysTransactions(ctx, 1, day)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGormStore_Lookups(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&UserModel{ID: 1, Barcode: "1234567890"}).Error)
	require.NoError(t, db.Create(&CafeteriaModel{ID: 2, Name: "student", DisplayName: "Student Hall", SupportsDiscount: true}).Error)
	require.NoError(t, db.Create(fromDomainDiscountRule(&domain.CafeteriaDiscountRule{
		CafeteriaID:        2,
		Token:              "abcd",
		AvailableMealTypes: domain.MealMask(domain.MealLunch, domain.MealDinner),
		MealTimeRanges:     map[domain.MealType]string{domain.MealLunch: "11:30-13:30"},
		Condition:          "weekday != 0",
	})).Error)

	user, err := store.GetUserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &domain.User{ID: 1, Barcode: "1234567890"}, user)

	cafeteria, err := store.GetCafeteriaByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, cafeteria)
	assert.True(t, cafeteria.SupportsDiscount)
	assert.Equal(t, "Student Hall", cafeteria.DisplayName)

	rule, err := store.GetCafeteriaDiscountRule(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, &domain.CafeteriaDiscountRule{
		CafeteriaID:        2,
		Token:              "abcd",
		AvailableMealTypes: 6,
		MealTimeRanges:     map[domain.MealType]string{domain.MealLunch: "11:30-13:30"},
		Condition:          "weekday != 0",
	}, rule)
}

func TestGormStore_StatusUpsert(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetLastActivation(ctx, 1, day))
	require.NoError(t, store.SetLastActivation(ctx, 1, day.Add(time.Minute)))

	var count int64
	require.NoError(t, db.Model(&UserDiscountStatusModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	status, err := store.GetUserDiscountStatus(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, status.LastBarcodeActivation)
	assert.True(t, status.LastBarcodeActivation.Equal(day.Add(time.Minute)))
	assert.Nil(t, status.LastBarcodeTagging)

	require.NoError(t, store.SetLastTagging(ctx, 1, day.Add(2*time.Minute)))
	status, err = store.GetUserDiscountStatus(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, status.LastBarcodeActivation, "tagging keeps the activation")
	assert.True(t, status.LastBarcodeActivation.Equal(day.Add(time.Minute)))
	require.NotNil(t, status.LastBarcodeTagging)
	assert.True(t, status.LastBarcodeTagging.Equal(day.Add(2*time.Minute)))
}

func TestGormStore_Transactions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	lunch := &domain.DiscountTransaction{UserID: 1, CafeteriaID: 2, MealType: domain.MealLunch, Timestamp: day}
	require.NoError(t, store.WriteTransaction(ctx, lunch))
	assert.NotZero(t, lunch.ID)

	// same user, cafeteria and day
	dinner := &domain.DiscountTransaction{UserID: 1, CafeteriaID: 2, MealType: domain.MealDinner, Timestamp: day.Add(6 * time.Hour)}
	err := store.WriteTransaction(ctx, dinner)
	assert.True(t, errors.Is(err, domain.ErrTransactionExists), "got %v", err)

	// another cafeteria the same day, and the same cafeteria the next day
	require.NoError(t, store.WriteTransaction(ctx, &domain.DiscountTransaction{UserID: 1, CafeteriaID: 3, MealType: domain.MealDinner, Timestamp: day.Add(6 * time.Hour)}))
	require.NoError(t, store.WriteTransaction(ctx, &domain.DiscountTransaction{UserID: 1, CafeteriaID: 2, MealType: domain.MealLunch, Timestamp: day.Add(24 * time.Hour)}))
	require.NoError(t, store.WriteTransaction(ctx, &domain.DiscountTransaction{UserID: 9, CafeteriaID: 2, MealType: domain.MealLunch, Timestamp: day}))

	today, err := store.GetTodaysTransactions(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, int64(2), today[0].CafeteriaID)
	assert.Equal(t, domain.MealLunch, today[0].MealType)
	assert.Equal(t, int64(3), today[1].CafeteriaID)

	require.NoError(t, store.RemoveTransaction(ctx, lunch))
	today, err = store.GetTodaysTransactions(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, int64(3), today[0].CafeteriaID)

	tomorrow, err := store.GetTodaysTransactions(ctx, 1, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, tomorrow, 1, "removal is scoped to one day")
}

func TestMySQLConfig_FormatDSN(t *testing.T) {
	c := MySQLConfig{Addr: "db:3306", User: "discount", Password: "secret", Database: "cafeteria"}
	dsn, err := c.FormatDSN(time.UTC)
	require.NoError(t, err)
	assert.Contains(t, dsn, "discount:secret@tcp(db:3306)/cafeteria?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestMySQLConfig_FormatDSN_RawDSN(t *testing.T) {
	seoul := time.FixedZone("Asia/Seoul", 9*60*60)
	c := MySQLConfig{DSN: "u:p@tcp(h:3306)/cafeteria?charset=utf8mb4"}

	dsn, err := c.FormatDSN(seoul)
	require.NoError(t, err)
	assert.Contains(t, dsn, "u:p@tcp(h:3306)/cafeteria?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "loc=Asia%2FSeoul")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestMySQLConfig_FormatDSN_InvalidDSN(t *testing.T) {
	_, err := MySQLConfig{DSN: "not a dsn"}.FormatDSN(nil)
	assert.Error(t, err)
}
