package sqlite

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite" // CGO-free driver
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"docrag/internal/chunkstore"
	"docrag/internal/domain"
)

const nextChunkKey = "next_chunk_id"

type chunkRow struct {
	ChunkID   int64  `gorm:"primaryKey;autoIncrement:false"`
	FileName  string `gorm:"not null;uniqueIndex:idx_chunks_source_seq"`
	Sequence  int    `gorm:"not null;uniqueIndex:idx_chunks_source_seq"`
	Content   string `gorm:"not null"`
	Embedding []byte
	Dimension int
	CreatedAt time.Time
}

func (chunkRow) TableName() string { return "chunks" }

type metaRow struct {
	Name  string `gorm:"primaryKey"`
	Value int64
}

func (metaRow) TableName() string { return "store_meta" }

// Store is a ChunkStore on SQLite. Appends and embedding saves each run in
// one transaction; vectors are stored as little-endian float32 blobs.
type Store struct {
	db *gorm.DB
	// SQLite allows one writer; serialising here avoids SQLITE_BUSY retries.
	wmu sync.Mutex
}

// Option customises a Store.
type Option func(*gorm.Config)

// WithLogger routes slow-query and error logs to l.
func WithLogger(l *log.Logger) Option {
	return func(c *gorm.Config) {
		c.Logger = logger.New(l, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway store.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := &gorm.Config{Logger: logger.New(log.New(io.Discard, "", 0), logger.Config{LogLevel: logger.Silent})}
	for _, o := range opts {
		o(cfg)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if path != ":memory:" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if err := db.AutoMigrate(&chunkRow{}, &metaRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, source string, texts []string) ([]domain.Chunk, error) {
	if err := chunkstore.ValidateAppend(source, texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	var batch []domain.Chunk
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextID(tx)
		if err != nil {
			return err
		}
		var last int
		if err := tx.Model(&chunkRow{}).Where("file_name = ?", source).
			Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
			return err
		}
		batch = chunkstore.Build(source, texts, next, last)
		rows := make([]chunkRow, len(batch))
		for i, c := range batch {
			rows[i] = chunkRow{ChunkID: c.ID, FileName: c.SourceName, Sequence: c.Sequence, Content: c.Text}
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return err
		}
		return setNextID(tx, next+int64(len(batch)))
	})
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", source, err)
	}
	return batch, nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.Chunk, error) {
	var rows []chunkRow
	if err := s.db.WithContext(ctx).Omit("embedding").Order("chunk_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.chunk()
	}
	return out, nil
}

var errUnknownChunk = errors.New("unknown chunk")

func (s *Store) SaveEmbeddings(ctx context.Context, embedded []domain.EmbeddedChunk) error {
	if len(embedded) == 0 {
		return nil
	}
	if err := chunkstore.CheckEmbeddings(embedded, func(int64) bool { return true }); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ec := range embedded {
			res := tx.Model(&chunkRow{}).Where("chunk_id = ?", ec.ID).Updates(map[string]any{
				"embedding": encodeVector(ec.Vector),
				"dimension": len(ec.Vector),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("%w %d", errUnknownChunk, ec.ID)
			}
		}
		return nil
	})
	if errors.Is(err, errUnknownChunk) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return err
}

func (s *Store) LoadEmbeddings(ctx context.Context) ([]domain.EmbeddedChunk, error) {
	var rows []chunkRow
	if err := s.db.WithContext(ctx).Where("embedding IS NOT NULL").Order("chunk_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.EmbeddedChunk, 0, len(rows))
	for _, r := range rows {
		v, err := decodeVector(r.Embedding, r.Dimension)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", domain.ErrCorruptStore, r.ChunkID, err)
		}
		out = append(out, domain.EmbeddedChunk{Chunk: r.chunk(), Vector: v})
	}
	return out, nil
}

// Reset deletes every chunk but keeps the id counter.
func (s *Store) Reset(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := nextID(tx)
		if err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&chunkRow{}).Error; err != nil {
			return err
		}
		return setNextID(tx, next)
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r chunkRow) chunk() domain.Chunk {
	return domain.Chunk{ID: r.ChunkID, SourceName: r.FileName, Sequence: r.Sequence, Text: r.Content}
}

func nextID(tx *gorm.DB) (int64, error) {
	var metas []metaRow
	if err := tx.Where("name = ?", nextChunkKey).Limit(1).Find(&metas).Error; err != nil {
		return 0, err
	}
	var maxID int64
	if err := tx.Model(&chunkRow{}).Select("COALESCE(MAX(chunk_id), 0)").Scan(&maxID).Error; err != nil {
		return 0, err
	}
	next := maxID + 1
	if len(metas) == 1 && metas[0].Value > next {
		next = metas[0].Value
	}
	return next, nil
}

func setNextID(tx *gorm.DB, next int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&metaRow{Name: nextChunkKey, Value: next}).Error
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b)%4 != 0 || (dim > 0 && len(b) != 4*dim) {
		return nil, fmt.Errorf("blob of %d bytes does not hold %d float32 values", len(b), dim)
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
