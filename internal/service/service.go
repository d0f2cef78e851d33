package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/resonance/meter/internal/capture"
	"github.com/resonance/meter/internal/combat"
	"github.com/resonance/meter/internal/config"
	"github.com/resonance/meter/internal/core/event"
	"github.com/resonance/meter/internal/data"
	"github.com/resonance/meter/internal/metrics"
	"github.com/resonance/meter/internal/persist"
	"github.com/resonance/meter/internal/scripting"
)

// Service composes the capture-to-encounter pipeline and its optional
// collaborators (archive, hooks, metrics endpoint) and runs it until the
// context is cancelled.
type Service struct {
	cfg     *config.Config
	cfgPath string
	log     *zap.Logger
}

func New(cfg *config.Config, cfgPath string, log *zap.Logger) *Service {
	return &Service{cfg: cfg, cfgPath: cfgPath, log: log}
}

// Run starts capture and consumes records on the calling goroutine. The
// errors that escape are a failure to load the embedded spec table and a
// fatal transport failure; everything else is handled inside the pipeline.
func (s *Service) Run(ctx context.Context) error {
	met := metrics.New()
	bus := event.NewBus()
	defer bus.Close()

	specs, err := data.LoadSpecTable()
	if err != nil {
		return fmt.Errorf("spec table: %w", err)
	}
	s.log.Info("spec table loaded", zap.Int("specs", specs.Count()))

	cache := combat.NewPlayerCache()
	settings := config.NewSettings(s.cfg.Encounter, s.log)
	engine := combat.NewEngine(s.log, met, bus, cache, specs, settings)
	settings.OnChange(engine.ApplySettings)
	if err := settings.Watch(ctx, s.cfgPath); err != nil {
		s.log.Warn("config watch unavailable, settings are boot-time only",
			zap.Error(err))
	}

	if s.cfg.Database.DSN != "" {
		if err := s.startArchive(ctx, bus); err != nil {
			// The meter works without its archive.
			s.log.Warn("encounter archive disabled", zap.Error(err))
		}
	}

	if s.cfg.Scripting.Dir != "" {
		s.startHooks(bus)
	}

	if s.cfg.Metrics.Listen != "" {
		go met.Serve(ctx, s.cfg.Metrics.Listen, s.log)
	}

	sniffer := capture.NewSniffer(capture.Options{
		BPF:          s.cfg.Capture.BPF,
		SnapLen:      s.cfg.Capture.SnapLen,
		Promiscuous:  s.cfg.Capture.Promiscuous,
		DeviceFilter: s.cfg.Capture.DeviceFilter,
	}, s.log, met)
	if err := sniffer.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	engine.Run(ctx, sniffer.Records())
	return nil
}

func (s *Service) startArchive(ctx context.Context, bus *event.Bus) error {
	db, err := persist.NewDB(ctx, s.cfg.Database, s.log)
	if err != nil {
		return err
	}
	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		db.Close()
		return err
	}
	repo := persist.NewEncounterRepo(db)
	s.log.Info("encounter archive connected")

	event.Subscribe(bus, func(ev combat.EncounterEnded) {
		// Bus handlers must not block; the insert runs on its own
		// goroutine with its own deadline.
		go func() {
			insCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := repo.Archive(insCtx, ev.Encounter); err != nil {
				s.log.Warn("encounter archive insert failed", zap.Error(err))
			}
		}()
	})

	go func() {
		<-ctx.Done()
		db.Close()
	}()
	return nil
}

func (s *Service) startHooks(bus *event.Bus) {
	hooks, err := scripting.NewEngine(s.cfg.Scripting.Dir, s.log)
	if err != nil {
		s.log.Warn("hook scripts disabled", zap.Error(err))
		return
	}
	s.log.Info("hook scripts loaded", zap.String("dir", s.cfg.Scripting.Dir))

	event.Subscribe(bus, func(ev combat.EncounterEnded) {
		go hooks.OnEncounterEnd(ev.Encounter)
	})
	event.Subscribe(bus, func(combat.ServerChanged) {
		go hooks.OnServerChange()
	})
}
