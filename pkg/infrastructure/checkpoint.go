package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointStore persists the last processed sequence number per stream
// shard. Each shard has exactly one writer (its worker goroutine), so the
// store needs durability, not coordination.
type CheckpointStore interface {
	// Load returns the stored sequence number for the shard, or "" when no
	// checkpoint exists yet.
	Load(ctx context.Context, shardID string) (string, error)

	// Save records the sequence number of the last processed record.
	Save(ctx context.Context, shardID, sequenceNumber string) error
}

// ShardCheckpointRecord is the relational row backing one shard checkpoint.
type ShardCheckpointRecord struct {
	ShardID        string `gorm:"primaryKey;column:shard_id"`
	SequenceNumber string `gorm:"column:sequence_number"`
	UpdatedAt      time.Time
}

// TableName returns the table name for GORM.
func (ShardCheckpointRecord) TableName() string { return "shard_checkpoints" }

// GormCheckpointStore keeps checkpoints in the relational database that
// already backs the analytical projection.
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a checkpoint store over db.
func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// Load implements CheckpointStore.
func (s *GormCheckpointStore) Load(ctx context.Context, shardID string) (string, error) {
	var record ShardCheckpointRecord
	err := s.db.WithContext(ctx).First(&record, "shard_id = ?", shardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load checkpoint for shard %s: %w", shardID, err)
	}
	return record.SequenceNumber, nil
}

// Save implements CheckpointStore with an upsert keyed on the shard ID.
func (s *GormCheckpointStore) Save(ctx context.Context, shardID, sequenceNumber string) error {
	record := ShardCheckpointRecord{
		ShardID:        shardID,
		SequenceNumber: sequenceNumber,
		UpdatedAt:      time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shard_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sequence_number", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for shard %s: %w", shardID, err)
	}
	return nil
}

// MemoryCheckpointStore is the in-memory CheckpointStore used in tests.
type MemoryCheckpointStore struct {
	mu        sync.RWMutex
	sequences map[string]string
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{sequences: make(map[string]string)}
}

// Load implements CheckpointStore.
func (s *MemoryCheckpointStore) Load(_ context.Context, shardID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequences[shardID], nil
}

// Save implements CheckpointStore.
func (s *MemoryCheckpointStore) Save(_ context.Context, shardID, sequenceNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[shardID] = sequenceNumber
	return nil
}
