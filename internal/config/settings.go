package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Settings is the narrow runtime view of the two encounter parameters the
// pipeline may re-read while running. Reads are lock-cheap; updates come
// from the config-file watcher and fan out to registered callbacks.
type Settings struct {
	mu         sync.RWMutex
	resetTimer time.Duration // 0 = never auto-end
	maxHistory int
	callbacks  []func()
	log        *zap.Logger
}

func NewSettings(cfg EncounterConfig, log *zap.Logger) *Settings {
	s := &Settings{log: log}
	s.apply(cfg)
	return s
}

// ResetTimer returns the idle timeout; zero means encounters never
// auto-end.
func (s *Settings) ResetTimer() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resetTimer
}

// MaxHistory returns the encounter history bound.
func (s *Settings) MaxHistory() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxHistory
}

// OnChange registers a callback invoked after any settings update.
func (s *Settings) OnChange(fn func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// Update applies new encounter settings and notifies subscribers.
func (s *Settings) Update(cfg EncounterConfig) {
	s.apply(cfg)
	s.mu.RLock()
	callbacks := make([]func(), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (s *Settings) apply(cfg EncounterConfig) {
	maxHistory := cfg.MaxHistory
	if maxHistory > MaxHistoryBound {
		maxHistory = MaxHistoryBound
	}
	s.mu.Lock()
	s.resetTimer = time.Duration(cfg.ResetTimerSeconds) * time.Second
	s.maxHistory = int(maxHistory)
	s.mu.Unlock()
}

// Watch re-reads the config file whenever it changes and pushes the
// encounter section through Update. A file that becomes unreadable or
// unparsable keeps the previous values.
func (s *Settings) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					s.log.Warn("config reload failed, keeping previous settings",
						zap.Error(err))
					continue
				}
				s.log.Info("encounter settings reloaded",
					zap.Uint32("reset_timer_seconds", cfg.Encounter.ResetTimerSeconds),
					zap.Uint32("max_history", cfg.Encounter.MaxHistory))
				s.Update(cfg.Encounter)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
