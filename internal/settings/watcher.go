package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/logger"
)

// ImportFile applies the JSON settings document at path.
func (s *Service) ImportFile(ctx context.Context, path string) (calls.ProviderSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return calls.ProviderSettings{}, fmt.Errorf("read settings file: %w", err)
	}
	return s.Apply(ctx, raw)
}

// Watch imports path once, then re-imports it whenever it is written or replaced,
// until ctx is cancelled. Invalid documents are logged and skipped.
func (s *Service) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve settings file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory and filter by name.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}
	s.importLogged(ctx, abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.importLogged(ctx, abs)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Base().Warn("settings watcher error", zap.Error(err))
		}
	}
}

func (s *Service) importLogged(ctx context.Context, path string) {
	applied, err := s.ImportFile(ctx, path)
	if err != nil {
		logger.Base().Warn("settings file rejected", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Base().Info("settings file applied",
		zap.String("path", path),
		zap.String("tts_provider", applied.TTSProvider),
		zap.String("stt_provider", applied.STTProvider),
		zap.String("voice_gender", string(applied.VoiceGender)))
}
