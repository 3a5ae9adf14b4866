package settings

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benvon/portal-identity/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileDocument is the layout of a portal settings YAML file.
type fileDocument struct {
	Portals []*models.PortalSettings `yaml:"portals"`
}

// FileSource serves portal settings from a YAML file and can reload it
// periodically.
type FileSource struct {
	*StaticSource
	path     string
	log      *zap.Logger
	modified time.Time
}

// NewFileSource loads path and returns a source serving its portals.
func NewFileSource(path string, log *zap.Logger) (*FileSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &FileSource{StaticSource: NewStaticSource(), path: path, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseFile decodes a settings document.
func ParseFile(data []byte) ([]*models.PortalSettings, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse portal settings: %w", err)
	}
	for i, p := range doc.Portals {
		if p == nil || p.PortalID == "" {
			return nil, fmt.Errorf("portal entry %d has no portal_id", i)
		}
	}
	return doc.Portals, nil
}

// Reload re-reads the file and replaces every portal it defines.
func (s *FileSource) Reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat portal settings file: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read portal settings file: %w", err)
	}
	portals, err := ParseFile(data)
	if err != nil {
		return err
	}

	// UpdatedAt versions compiled key sets. An updated_at older than the
	// file is moved up to its mtime, so every edit yields a new version.
	mtime := info.ModTime().UTC()
	next := make(map[string]*models.PortalSettings, len(portals))
	for _, p := range portals {
		p.NormalizeDomains()
		if p.UpdatedAt.Before(mtime) {
			p.UpdatedAt = mtime
		}
		next[p.PortalID] = p
	}
	s.mu.Lock()
	s.portals = next
	s.mu.Unlock()
	s.modified = info.ModTime()

	s.log.Info("portal_settings_loaded", zap.String("path", s.path), zap.Int("portals", len(portals)))
	return nil
}

// Start reloads the file whenever its modification time changes, until ctx
// is cancelled. Failed reloads keep the previous settings.
func (s *FileSource) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil || !info.ModTime().After(s.modified) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Warn("portal_settings_reload_failed", zap.String("path", s.path), zap.Error(err))
			}
		}
	}
}
