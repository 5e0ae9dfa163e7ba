// Package pgstorage is an alternate metadata backend, backed by PostgreSQL
// via database/sql and github.com/lib/pq. It persists the same
// stream/topic/partition/consumer-offset metadata fsstorage keeps as
// files; segment log/index/time-index bytes are never routed here.
package pgstorage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"streamlog/internal/storage"
)

// Config carries the Postgres connection parameters.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// Store implements storage.Port's four sub-ports against Postgres tables.
type Store struct {
	db *sql.DB
}

func Open(cfg Config) (*Store, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AsPort() storage.Port {
	return storage.Port{System: s, Streams: s, Topics: s, Partitions: s}
}

func (s *Store) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS system_meta (
			id INT PRIMARY KEY DEFAULT 1,
			version INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			id INT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			stream_id INT NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
			id INT NOT NULL,
			name TEXT NOT NULL,
			message_expiry_seconds BIGINT NOT NULL DEFAULT 0,
			max_topic_size_bytes BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (stream_id, id),
			UNIQUE (stream_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS partitions (
			stream_id INT NOT NULL,
			topic_id INT NOT NULL,
			id INT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (stream_id, topic_id, id),
			FOREIGN KEY (stream_id, topic_id) REFERENCES topics(stream_id, id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS consumer_offsets (
			stream_id INT NOT NULL,
			topic_id INT NOT NULL,
			partition_id INT NOT NULL,
			consumer_id TEXT NOT NULL,
			offset_value BIGINT NOT NULL,
			PRIMARY KEY (stream_id, topic_id, partition_id, consumer_id)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveSystemMeta(meta storage.SystemMeta) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO system_meta (id, version) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, meta.Version)
	return err
}

func (s *Store) LoadSystemMeta() (storage.SystemMeta, error) {
	var version int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT version FROM system_meta WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return storage.SystemMeta{Version: 1}, nil
	}
	if err != nil {
		return storage.SystemMeta{}, err
	}
	return storage.SystemMeta{Version: version}, nil
}

func (s *Store) SaveStream(info storage.StreamInfo) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO streams (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, info.ID, info.Name)
	return err
}

func (s *Store) LoadStreams() ([]storage.StreamInfo, error) {
	rows, err := s.db.QueryContext(context.Background(), `SELECT id, name FROM streams`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.StreamInfo
	for rows.Next() {
		var info storage.StreamInfo
		if err := rows.Scan(&info.ID, &info.Name); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStream(streamID uint32) error {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM streams WHERE id = $1`, streamID)
	return err
}

func (s *Store) SaveTopic(streamID uint32, info storage.TopicInfo) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO topics (stream_id, id, name, message_expiry_seconds, max_topic_size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			message_expiry_seconds = EXCLUDED.message_expiry_seconds,
			max_topic_size_bytes = EXCLUDED.max_topic_size_bytes`,
		streamID, info.ID, info.Name, info.MessageExpirySeconds, info.MaxTopicSizeBytes)
	return err
}

func (s *Store) LoadTopics(streamID uint32) ([]storage.TopicInfo, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, name, message_expiry_seconds, max_topic_size_bytes
		FROM topics WHERE stream_id = $1`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TopicInfo
	for rows.Next() {
		var info storage.TopicInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.MessageExpirySeconds, &info.MaxTopicSizeBytes); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTopic(streamID, topicID uint32) error {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM topics WHERE stream_id = $1 AND id = $2`, streamID, topicID)
	return err
}

func (s *Store) SavePartition(streamID, topicID uint32, info storage.PartitionInfo) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO partitions (stream_id, topic_id, id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, topic_id, id) DO UPDATE SET created_at = EXCLUDED.created_at`,
		streamID, topicID, info.ID, info.CreatedAt)
	return err
}

func (s *Store) LoadPartitions(streamID, topicID uint32) ([]storage.PartitionInfo, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, created_at FROM partitions WHERE stream_id = $1 AND topic_id = $2`,
		streamID, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.PartitionInfo
	for rows.Next() {
		var info storage.PartitionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) DeletePartition(streamID, topicID, partitionID uint32) error {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM partitions WHERE stream_id = $1 AND topic_id = $2 AND id = $3`,
		streamID, topicID, partitionID)
	return err
}

func (s *Store) SaveConsumerOffset(streamID, topicID, partitionID uint32, consumerID string, offset uint64) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO consumer_offsets (stream_id, topic_id, partition_id, consumer_id, offset_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id, topic_id, partition_id, consumer_id)
		DO UPDATE SET offset_value = EXCLUDED.offset_value`,
		streamID, topicID, partitionID, consumerID, offset)
	return err
}

func (s *Store) LoadConsumerOffsets(streamID, topicID, partitionID uint32) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT consumer_id, offset_value FROM consumer_offsets
		WHERE stream_id = $1 AND topic_id = $2 AND partition_id = $3`,
		streamID, topicID, partitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var consumerID string
		var offset int64
		if err := rows.Scan(&consumerID, &offset); err != nil {
			return nil, err
		}
		out[consumerID] = uint64(offset)
	}
	return out, rows.Err()
}
