package makers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&MakerRecord{}))
	return db
}

func seedMaker(t *testing.T, db *gorm.DB, id string, chainID int64, pairsJSON string, updatedAt time.Time) {
	t.Helper()
	uri := "https://" + id + ".example"
	require.NoError(t, db.Create(&MakerRecord{
		MakerID:   id,
		ChainID:   chainID,
		PairsJSON: pairsJSON,
		RfqtURI:   &uri,
		UpdatedAt: updatedAt,
	}).Error)
}

func TestGormStore_GetMakers(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db)
	now := time.Now().UTC().Truncate(time.Second)

	seedMaker(t, db, "maker-1", 1, `[["0xBBB","0xAAA"],["0xCCC","0xDDD"]]`, now)
	seedMaker(t, db, "maker-2", 1, `[]`, now)
	seedMaker(t, db, "maker-3", 137, `[["0xAAA","0xBBB"]]`, now)

	result, err := store.GetMakers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, result, 2, "only chain 1 makers")

	// Pairs come back canonicalized regardless of stored order and case.
	require.Len(t, result[0].Pairs, 2)
	assert.Equal(t, "0xaaa-0xbbb", result[0].Pairs[0].Key())
	assert.Empty(t, result[1].Pairs)
}

func TestGormStore_GetMakers_MalformedPairs(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db)

	seedMaker(t, db, "maker-1", 1, `not json`, time.Now())

	_, err := store.GetMakers(context.Background(), 1)
	assert.Error(t, err, "malformed data is a configuration failure, not a silent skip")
}

func TestGormStore_Fingerprint(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	empty, err := store.GetMakersFingerprint(ctx, 1)
	require.NoError(t, err)

	seedMaker(t, db, "maker-1", 1, `[]`, base)
	v1, err := store.GetMakersFingerprint(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, empty, v1)

	// Unchanged data yields an unchanged fingerprint.
	again, err := store.GetMakersFingerprint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, v1, again)

	// A newer update timestamp changes it.
	require.NoError(t, db.Model(&MakerRecord{}).
		Where("maker_id = ? AND chain_id = ?", "maker-1", int64(1)).
		Update("updated_at", base.Add(time.Minute)).Error)
	v2, err := store.GetMakersFingerprint(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	// So does adding a row, even with an older timestamp.
	seedMaker(t, db, "maker-2", 1, `[]`, base)
	v3, err := store.GetMakersFingerprint(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, v2, v3)
}
