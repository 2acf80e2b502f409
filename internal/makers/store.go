package makers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// Store is the persistent maker store this core reads from. Maker and pair
// administration happens elsewhere; this side is read-only.
type Store interface {
	// GetMakers returns all makers registered for the chain.
	GetMakers(ctx context.Context, chainID int64) ([]rfq.Maker, error)
	// GetMakersFingerprint returns a cheap, comparable summary of the
	// chain's maker set that changes whenever any maker row changes.
	GetMakersFingerprint(ctx context.Context, chainID int64) (string, error)
}

// MakerRecord is the relational row for one maker on one chain. Pairs are
// stored as a JSON array of canonical address tuples.
type MakerRecord struct {
	MakerID   string    `gorm:"column:maker_id;primaryKey"`
	ChainID   int64     `gorm:"column:chain_id;primaryKey"`
	PairsJSON string    `gorm:"column:pairs"`
	RfqtURI   *string   `gorm:"column:rfqt_uri"`
	RfqmURI   *string   `gorm:"column:rfqm_uri"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName implements the gorm table naming convention.
func (MakerRecord) TableName() string {
	return "rfq_makers"
}

// GormStore reads makers from a relational database through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a maker store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetMakers implements Store.
func (s *GormStore) GetMakers(ctx context.Context, chainID int64) ([]rfq.Maker, error) {
	var records []MakerRecord
	if err := s.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("maker_id").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query makers for chain %d: %w", chainID, err)
	}

	result := make([]rfq.Maker, 0, len(records))
	for _, record := range records {
		var rawPairs [][2]string
		if record.PairsJSON != "" {
			if err := json.Unmarshal([]byte(record.PairsJSON), &rawPairs); err != nil {
				return nil, fmt.Errorf("malformed pairs for maker %q on chain %d: %w",
					record.MakerID, chainID, err)
			}
		}
		pairs := make([]rfq.Pair, 0, len(rawPairs))
		for _, raw := range rawPairs {
			pairs = append(pairs, rfq.NewPair(raw[0], raw[1]))
		}
		result = append(result, rfq.Maker{
			MakerID:   record.MakerID,
			ChainID:   record.ChainID,
			Pairs:     pairs,
			RfqtURI:   record.RfqtURI,
			RfqmURI:   record.RfqmURI,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return result, nil
}

// GetMakersFingerprint implements Store. The fingerprint hashes the row count
// together with the newest update timestamp, so both edits and deletions of
// maker rows change it without transferring the full set.
func (s *GormStore) GetMakersFingerprint(ctx context.Context, chainID int64) (string, error) {
	var summary struct {
		Count     int64
		UpdatedAt *time.Time
	}
	err := s.db.WithContext(ctx).
		Model(&MakerRecord{}).
		Select("count(*) as count, max(updated_at) as updated_at").
		Where("chain_id = ?", chainID).
		Scan(&summary).Error
	if err != nil {
		return "", fmt.Errorf("failed to query maker fingerprint for chain %d: %w", chainID, err)
	}

	var newest string
	if summary.UpdatedAt != nil {
		newest = summary.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d|%s", summary.Count, newest)))
	return hex.EncodeToString(sum[:]), nil
}
