// Package history implements the spec's persistent History Store: a
// single-writer, many-reader embedded relational store keyed by normalised
// URL, backed by SQLite in WAL mode.
package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/bulletin/internal/aggregator"
	"horse.fit/bulletin/internal/globaltime"
)

//go:embed sql/history_indexes.sql
var indexSQL string

type historyRow struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	URL            string     `gorm:"column:url;not null"`
	NormalizedURL  string     `gorm:"column:normalized_url;not null;unique"`
	Title          string     `gorm:"column:title;not null"`
	Source         string     `gorm:"column:source;not null"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at;not null"`
	LastSeenAt     time.Time  `gorm:"column:last_seen_at;not null"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	DateConfidence string     `gorm:"column:date_confidence;not null;default:unknown"`
	TitleHash      string     `gorm:"column:title_hash"`
	ContentHash    string     `gorm:"column:content_hash"`
}

func (historyRow) TableName() string { return "history" }

func toRow(entry aggregator.HistoryEntry) historyRow {
	confidence := string(entry.DateConfidence)
	if confidence == "" {
		confidence = string(aggregator.ConfidenceUnknown)
	}
	return historyRow{
		URL:            entry.URL,
		NormalizedURL:  entry.NormalizedURL,
		Title:          entry.Title,
		Source:         entry.Source,
		FirstSeenAt:    entry.FirstSeenAt,
		LastSeenAt:     entry.LastSeenAt,
		PublishedAt:    entry.PublishedAt,
		DateConfidence: confidence,
		TitleHash:      entry.TitleHash,
		ContentHash:    entry.ContentHash,
	}
}

func fromRow(row historyRow) aggregator.HistoryEntry {
	return aggregator.HistoryEntry{
		ID:             row.ID,
		URL:            row.URL,
		NormalizedURL:  row.NormalizedURL,
		Title:          row.Title,
		Source:         row.Source,
		FirstSeenAt:    row.FirstSeenAt,
		LastSeenAt:     row.LastSeenAt,
		PublishedAt:    row.PublishedAt,
		DateConfidence: aggregator.DateConfidence(row.DateConfidence),
		TitleHash:      row.TitleHash,
		ContentHash:    row.ContentHash,
	}
}

// Store is the History Store: the sole shared mutable state of a pipeline
// run. Writes are serialised internally; readers may proceed concurrently.
type Store struct {
	gdb *gorm.DB
}

// Open creates or reconnects to the SQLite-backed History Store at path,
// in WAL journal mode to permit concurrent reads from batched lookups.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history store path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: globaltime.UTC,
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	if err := gdb.WithContext(ctx).AutoMigrate(&historyRow{}); err != nil {
		return nil, fmt.Errorf("migrate history store: %w", err)
	}

	if trimmed := strings.TrimSpace(indexSQL); trimmed != "" {
		if err := gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
			return nil, fmt.Errorf("create history indexes: %w", err)
		}
	}

	return &Store{gdb: gdb}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.gdb == nil {
		return nil
	}
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindByNormalizedURL returns the entry for a normalised URL, or nil if absent.
func (s *Store) FindByNormalizedURL(ctx context.Context, normalizedURL string) (*aggregator.HistoryEntry, error) {
	var row historyRow
	err := s.gdb.WithContext(ctx).Where("normalized_url = ?", normalizedURL).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := fromRow(row)
	return &entry, nil
}

// FindExistingURLs bulk-tests normalised-URL existence, used by Layer 1b.
func (s *Store) FindExistingURLs(ctx context.Context, normalizedURLs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(normalizedURLs))
	if len(normalizedURLs) == 0 {
		return existing, nil
	}

	var rows []historyRow
	if err := s.gdb.WithContext(ctx).
		Select("normalized_url").
		Where("normalized_url IN ?", normalizedURLs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		existing[row.NormalizedURL] = true
	}
	return existing, nil
}

// FindByTitleHash narrows Layer-3 candidates by the djb2 title hash.
func (s *Store) FindByTitleHash(ctx context.Context, titleHash string) ([]aggregator.HistoryEntry, error) {
	var rows []historyRow
	if err := s.gdb.WithContext(ctx).Where("title_hash = ?", titleHash).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToEntries(rows), nil
}

// FindByDateRange returns entries with first_seen_at in [since, until),
// descending by first_seen_at. A nil until means no upper bound.
func (s *Store) FindByDateRange(ctx context.Context, since time.Time, until *time.Time) ([]aggregator.HistoryEntry, error) {
	query := s.gdb.WithContext(ctx).Where("first_seen_at >= ?", since)
	if until != nil {
		query = query.Where("first_seen_at < ?", *until)
	}
	var rows []historyRow
	if err := query.Order("first_seen_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToEntries(rows), nil
}

// FindPotentialReposts returns entries re-sighted at least minGapDays after
// their first sighting.
func (s *Store) FindPotentialReposts(ctx context.Context, minGapDays int) ([]aggregator.HistoryEntry, error) {
	const q = `
SELECT id, url, normalized_url, title, source, first_seen_at, last_seen_at,
       published_at, date_confidence, title_hash, content_hash
FROM history
WHERE julianday(last_seen_at) - julianday(first_seen_at) >= ?
ORDER BY first_seen_at DESC
`
	var rows []historyRow
	if err := s.gdb.WithContext(ctx).Raw(q, minGapDays).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToEntries(rows), nil
}

// Upsert inserts an absent entry or, for an existing one, always advances
// last_seen_at and fills published_at/date_confidence/hashes only when
// previously empty. first_seen_at never moves once set.
func (s *Store) Upsert(ctx context.Context, entry aggregator.HistoryEntry) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertOne(tx, entry)
	})
}

// BulkUpsert applies Upsert to every entry inside one transaction.
func (s *Store) BulkUpsert(ctx context.Context, entries []aggregator.HistoryEntry) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			if err := upsertOne(tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertOne(tx *gorm.DB, entry aggregator.HistoryEntry) error {
	var existing historyRow
	err := tx.Where("normalized_url = ?", entry.NormalizedURL).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := toRow(entry)
		return tx.Create(&row).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]any{"last_seen_at": entry.LastSeenAt}
	if existing.PublishedAt == nil && entry.PublishedAt != nil {
		updates["published_at"] = entry.PublishedAt
	}
	if isEmptyConfidence(existing.DateConfidence) && !isEmptyConfidence(string(entry.DateConfidence)) {
		updates["date_confidence"] = string(entry.DateConfidence)
	}
	if existing.TitleHash == "" && entry.TitleHash != "" {
		updates["title_hash"] = entry.TitleHash
	}
	if existing.ContentHash == "" && entry.ContentHash != "" {
		updates["content_hash"] = entry.ContentHash
	}
	return tx.Model(&existing).Updates(updates).Error
}

func isEmptyConfidence(value string) bool {
	return value == "" || value == string(aggregator.ConfidenceUnknown)
}

// Cleanup deletes entries first seen before the cutoff (default: now minus
// retentionDays) and returns the deleted count. It never deletes by
// last_seen_at, preserving the recency signal.
func (s *Store) Cleanup(ctx context.Context, before *time.Time, retentionDays int) (int64, error) {
	cutoff := globaltime.UTC().AddDate(0, 0, -retentionDays)
	if before != nil {
		cutoff = before.UTC()
	}
	result := s.gdb.WithContext(ctx).Where("first_seen_at < ?", cutoff).Delete(&historyRow{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Stats summarises the History Store contents.
type Stats struct {
	Total        int64
	MinFirstSeen *time.Time
	MaxFirstSeen *time.Time
	BySource     map[string]int64
}

// GetStats reports totals, the earliest and latest first_seen_at, and
// per-source counts.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var total int64
	if err := s.gdb.WithContext(ctx).Model(&historyRow{}).Count(&total).Error; err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: total, BySource: map[string]int64{}}
	if total == 0 {
		return stats, nil
	}

	var earliest, latest historyRow
	if err := s.gdb.WithContext(ctx).Order("first_seen_at ASC").Take(&earliest).Error; err != nil {
		return Stats{}, err
	}
	if err := s.gdb.WithContext(ctx).Order("first_seen_at DESC").Take(&latest).Error; err != nil {
		return Stats{}, err
	}
	stats.MinFirstSeen = &earliest.FirstSeenAt
	stats.MaxFirstSeen = &latest.FirstSeenAt

	var perSource []struct {
		Source string
		Count  int64
	}
	if err := s.gdb.WithContext(ctx).Model(&historyRow{}).
		Select("source, COUNT(*) as count").
		Group("source").
		Scan(&perSource).Error; err != nil {
		return Stats{}, err
	}
	for _, row := range perSource {
		stats.BySource[row.Source] = row.Count
	}

	return stats, nil
}

func rowsToEntries(rows []historyRow) []aggregator.HistoryEntry {
	entries := make([]aggregator.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, fromRow(row))
	}
	return entries
}
