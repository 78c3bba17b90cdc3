// Package settings stores the free-form per-user settings blob. Validation
// of the arbitrary keys is out of scope; the allow-list boundary for what
// reaches the voice engine lives on models.UserSettings.
package settings

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/models"
	"github.com/voxguard-tgbot-go/internal/storage"
)

// Service reads and writes user settings.
type Service struct {
	store  *storage.RecordStore
	logger *logrus.Logger
}

// NewService creates the settings service.
func NewService(store *storage.RecordStore, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns the user's settings; nil when none are stored.
func (s *Service) Get(uid string) models.UserSettings {
	var settings models.UserSettings
	found, err := s.store.Get(uid, &settings)
	if err != nil || !found {
		return nil
	}
	return settings
}

// Save replaces the user's settings blob.
func (s *Service) Save(uid string, settings models.UserSettings) error {
	return s.store.Put(uid, settings)
}

// ToggleFilter flips the anti-scam filter flag and returns the new state
// (true means the filter is off).
func (s *Service) ToggleFilter(uid string) (bool, error) {
	state := false
	err := s.store.Update(func(records map[string]json.RawMessage) error {
		var settings models.UserSettings
		if raw, ok := records[uid]; ok {
			if err := json.Unmarshal(raw, &settings); err != nil {
				settings = nil
			}
		}
		if settings == nil {
			settings = models.UserSettings{}
		}
		state = !settings.FilterOff()
		settings["filter_off"] = state
		raw, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		records[uid] = raw
		return nil
	})
	if err != nil {
		return false, err
	}
	return state, nil
}
