package config

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"showcased/internal/models"
)

// Persisted configuration keys.
const (
	keyServerID      = "selected_server_id"
	keyChannelIDs    = "selected_channel_ids"
	keySetupComplete = "is_setup_complete"
)

// Configuration is the user-curated setup state read by the indexing engine.
type Configuration struct {
	ServerID      string   `json:"server_id"`
	ChannelIDs    []string `json:"channel_ids"`
	SetupComplete bool     `json:"setup_complete"`
}

// Store persists Configuration in the config_entries table. Writes are
// transactional, so a crash mid-write cannot leave a torn config. Contents
// are not validated here; the indexing engine rejects empty channel lists at
// job start.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the persisted configuration. Missing keys read as zero values.
func (s *Store) Get() (Configuration, error) {
	var entries []models.ConfigEntry
	if err := s.db.Find(&entries).Error; err != nil {
		return Configuration{}, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Configuration
	for _, e := range entries {
		switch e.Key {
		case keyServerID:
			cfg.ServerID = e.Value
		case keyChannelIDs:
			if err := json.Unmarshal([]byte(e.Value), &cfg.ChannelIDs); err != nil {
				// A corrupt channel list reads as empty rather than
				// blocking every caller.
				cfg.ChannelIDs = nil
			}
		case keySetupComplete:
			cfg.SetupComplete = e.Value == "true"
		}
	}
	return cfg, nil
}

// Set replaces the persisted configuration, last write wins.
func (s *Store) Set(cfg Configuration) error {
	channels, err := json.Marshal(cfg.ChannelIDs)
	if err != nil {
		return fmt.Errorf("encode channel ids: %w", err)
	}
	setup := "false"
	if cfg.SetupComplete {
		setup = "true"
	}

	entries := []models.ConfigEntry{
		{Key: keyServerID, Value: cfg.ServerID},
		{Key: keyChannelIDs, Value: string(channels)},
		{Key: keySetupComplete, Value: setup},
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&e).Error; err != nil {
				return fmt.Errorf("write configuration key %s: %w", e.Key, err)
			}
		}
		return nil
	})
}
