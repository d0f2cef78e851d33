package combat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resonance/meter/internal/capture"
	"github.com/resonance/meter/internal/core/event"
	"github.com/resonance/meter/internal/data"
	"github.com/resonance/meter/internal/metrics"
	"github.com/resonance/meter/internal/protocol"
)

// SettingsSource is the narrow read-only view of the runtime-tunable
// encounter parameters.
type SettingsSource interface {
	// ResetTimer is the idle timeout; zero means never auto-end.
	ResetTimer() time.Duration
	// MaxHistory bounds the retained finalized encounters.
	MaxHistory() int
}

// Engine consumes decoded records and maintains the current encounter,
// the attacker table, and the bounded history. All encounter state lives
// behind one mutex; the idle-timer callback takes the same mutex.
type Engine struct {
	log      *zap.Logger
	met      *metrics.Metrics
	bus      *event.Bus
	cache    *PlayerCache
	specs    *data.SpecTable
	settings SettingsSource
	now      func() time.Time

	mu       sync.Mutex
	current  *Encounter
	history  []*Encounter
	selected *Encounter // nil = follow current
	timer    *time.Timer
}

func NewEngine(log *zap.Logger, met *metrics.Metrics, bus *event.Bus,
	cache *PlayerCache, specs *data.SpecTable, settings SettingsSource) *Engine {
	return &Engine{
		log:      log,
		met:      met,
		bus:      bus,
		cache:    cache,
		specs:    specs,
		settings: settings,
		now:      time.Now,
	}
}

// Run consumes the opcode queue until it closes or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, records <-chan capture.Record) {
	defer e.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			e.HandleRecord(rec)
		}
	}
}

// HandleRecord dispatches one decoded record.
func (e *Engine) HandleRecord(rec capture.Record) {
	switch rec.Op {
	case protocol.OpServerChange:
		e.log.Info("active server changed")
		event.Emit(e.bus, ServerChanged{})
	case protocol.OpSyncNearDeltaInfo:
		msg := protocol.ParseNearDeltaInfo(rec.Payload)
		for _, delta := range msg.Deltas {
			e.applyDelta(delta)
		}
	case protocol.OpSyncToMeDeltaInfo:
		msg := protocol.ParseToMeDeltaInfo(rec.Payload)
		if msg.BaseDelta != nil {
			e.applyDelta(msg.BaseDelta)
		}
	case protocol.OpSyncNearEntities:
		e.applyEntities(protocol.ParseNearEntities(rec.Payload))
	case protocol.OpSyncContainerData:
		e.applyContainer(protocol.ParseContainerData(rec.Payload))
	case protocol.OpSyncServerTime:
		// Server clock sync carries nothing the meter needs.
	default:
		e.log.Debug("unhandled opcode", zap.String("opcode", rec.Op.String()))
	}
}

// applyDelta processes one entity delta: attribute updates first, then the
// damage records of its skill effect.
func (e *Engine) applyDelta(delta *protocol.AoiSyncDelta) {
	if delta.HasUUID && delta.Attrs != nil {
		e.applyEntityAttrs(delta.UUID, protocol.DecodeAttrs(delta.Attrs.Attrs))
	}
	if delta.Skill == nil || !delta.HasUUID {
		return
	}
	for _, dmg := range delta.Skill.Damages {
		e.applyDamage(delta.UUID, dmg)
	}
}

// applyDamage runs the §per-event pipeline: classify, extend, attribute,
// store, reschedule.
func (e *Engine) applyDamage(targetRaw uint64, d *protocol.SyncDamageInfo) {
	attackerRaw, ok := d.Attacker()
	if !ok {
		return
	}
	attackerUID, attackerType := protocol.SplitRawID(attackerRaw)
	targetUID, _ := protocol.SplitRawID(targetRaw)

	dtype := d.DamageType()
	extending := dtype == protocol.DamageNormal || dtype == protocol.DamageHeal

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if extending {
		if e.current == nil || !e.current.IsActive {
			e.current = newEncounter(now)
			e.selected = nil
			e.met.EncounterActive.Set(1)
			e.log.Info("encounter started")
			event.Emit(e.bus, EncounterStarted{Encounter: e.current})
		}
		e.current.LastActivity = now
	} else {
		// Miss/Immune/Fall/Absorbed never open an encounter and never
		// reset the idle timer; without an active one they are dropped.
		if e.current == nil || !e.current.IsActive {
			return
		}
	}
	enc := e.current

	var value uint64
	if d.Value != nil {
		value = *d.Value
	}
	var skillID uint64
	if d.OwnerID != nil {
		skillID = *d.OwnerID
	}

	ev := DamageEvent{
		AttackerUID: attackerUID,
		TargetUID:   targetUID,
		Amount:      value,
		Type:        dtype,
		IsCrit:      d.Crit(),
		IsMiss:      d.IsMiss != nil && *d.IsMiss,
		Timestamp:   now,
	}
	enc.Events = append(enc.Events, ev)

	if attackerType == protocol.EntityCharacter {
		e.updateAttackerLocked(enc, attackerUID, skillID, dtype, value, ev.IsCrit)
	}

	if extending {
		e.rescheduleLocked()
	}
	event.Emit(e.bus, EncounterUpdated{Encounter: enc})
}

// updateAttackerLocked upserts the attacker's stats row and applies the
// damage/heal amounts and spec inference.
func (e *Engine) updateAttackerLocked(enc *Encounter, uid, skillID uint64,
	dtype protocol.DamageType, value uint64, isCrit bool) {
	st, ok := enc.Attackers[uid]
	if !ok {
		st = newAttackerStats(uid)
		if cached, found := e.cache.Get(uid); found {
			st.Name = cached.Name
			st.ClassID = cached.ClassID
			st.SpecName = cached.SpecName
			st.AbilityScore = cached.AbilityScore
		}
		enc.Attackers[uid] = st

		info := enc.entity(uid)
		info.Type = protocol.EntityCharacter
		if info.Name == "" {
			info.Name = st.Name
		}
		if info.ClassID == 0 {
			info.ClassID = st.ClassID
		}
	}

	if skillID != 0 {
		st.SkillIDs[skillID] = struct{}{}
		if st.SpecName == "" {
			if spec, found := e.specs.Lookup(skillID); found {
				st.SpecName = spec.SpecName
				st.ClassID = spec.ClassID
				e.cache.Merge(uid, CacheUpdate{SpecName: spec.SpecName, ClassID: spec.ClassID})
				info := enc.entity(uid)
				info.SpecName = spec.SpecName
				info.ClassID = spec.ClassID
				e.log.Debug("spec detected",
					zap.Uint64("uid", uid),
					zap.String("spec", spec.SpecName),
					zap.Uint64("skill_id", skillID))
			}
		}
	}

	switch {
	case dtype == protocol.DamageHeal:
		st.HealingDone += value
		st.HealingBySkill[skillID] += value
	case dtype != protocol.DamageMiss:
		st.TotalDamage += value
		st.DamageCount++
		if isCrit {
			st.CritCount++
		}
		st.DamageBySkill[skillID] += value
	}
}

// applyEntityAttrs merges decoded attributes into the player cache and the
// current encounter's entity table.
func (e *Engine) applyEntityAttrs(raw uint64, attrs protocol.EntityAttrs) {
	uid, typ := protocol.SplitRawID(raw)

	if typ == protocol.EntityCharacter {
		e.cache.Merge(uid, CacheUpdate{
			Name:         attrs.Name,
			ClassID:      int32(attrs.ProfessionID),
			AbilityScore: int64(attrs.FightPoint),
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return
	}
	info := e.current.entity(uid)
	if info.Type == protocol.EntityError {
		info.Type = typ
	}
	if attrs.HasName && info.Name == "" && protocol.ValidName(attrs.Name) {
		info.Name = attrs.Name
	}
	if attrs.HasProfession && info.ClassID == 0 && attrs.ProfessionID > 0 {
		info.ClassID = int32(attrs.ProfessionID)
	}
	if attrs.HasFightPoint && info.AbilityScore == 0 && attrs.FightPoint > 0 {
		info.AbilityScore = int64(attrs.FightPoint)
	}
}

// applyEntities folds a near-entities snapshot into the caches.
func (e *Engine) applyEntities(msg *protocol.NearEntities) {
	for _, ent := range msg.Entities {
		if !ent.HasUUID {
			continue
		}
		if ent.Attrs == nil {
			_, typ := protocol.SplitRawID(ent.UUID)
			if typ == protocol.EntityCharacter {
				e.log.Debug("character entity with no attrs",
					zap.Uint64("raw_id", ent.UUID))
			}
			continue
		}
		e.applyEntityAttrs(ent.UUID, protocol.DecodeAttrs(ent.Attrs.Attrs))
	}
}

// applyContainer folds the local character's container blob into the
// player cache.
func (e *Engine) applyContainer(msg *protocol.ContainerData) {
	if msg.Char == nil || msg.Char.Base == nil || !msg.Char.Base.HasCharID {
		return
	}
	base := msg.Char.Base

	// Some builds ship the raw id here, others the shifted uid; when the
	// low bits carry the character kind marker, treat it as raw.
	uid := base.CharID
	if shifted, typ := protocol.SplitRawID(base.CharID); typ == protocol.EntityCharacter {
		uid = shifted
	}

	upd := CacheUpdate{
		Name:         base.Name,
		AbilityScore: int64(base.FightPoint),
	}
	if msg.Char.Professions != nil && msg.Char.Professions.HasProfession {
		upd.ClassID = int32(msg.Char.Professions.CurProfessionID)
	}
	e.cache.Merge(uid, upd)
}

// --- idle-timeout state machine ---

// rescheduleLocked arms the idle timer for the configured timeout. A zero
// timeout disarms it entirely: the encounter then never auto-ends.
func (e *Engine) rescheduleLocked() {
	timeout := e.settings.ResetTimer()
	if timeout <= 0 {
		if e.timer != nil {
			e.timer.Stop()
		}
		return
	}
	if e.timer == nil {
		e.timer = time.AfterFunc(timeout, e.onIdleTimer)
		return
	}
	e.timer.Stop()
	e.timer.Reset(timeout)
}

func (e *Engine) onIdleTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || !e.current.IsActive {
		return
	}
	timeout := e.settings.ResetTimer()
	if timeout <= 0 {
		return
	}
	idle := e.now().Sub(e.current.LastActivity)
	if idle >= timeout {
		e.finalizeLocked()
		return
	}
	e.timer.Reset(timeout - idle)
}

// finalizeLocked closes the current encounter, pins its last activity to
// the newest stored event, and prepends it to the bounded history. The
// finalized encounter stays referenced as "current" until a new one
// begins, so subscribers keep seeing the last result.
func (e *Engine) finalizeLocked() {
	enc := e.current
	enc.IsActive = false
	if ts, ok := enc.LatestEventTime(); ok {
		enc.LastActivity = ts
	} else {
		enc.LastActivity = enc.StartTime
	}

	e.history = append([]*Encounter{enc}, e.history...)
	e.trimHistoryLocked()

	e.met.EncounterActive.Set(0)
	e.met.HistoryLength.Set(float64(len(e.history)))
	e.log.Info("encounter ended",
		zap.Duration("duration", enc.Duration(e.now())),
		zap.Int("attackers", len(enc.Attackers)),
		zap.Int("events", len(enc.Events)))

	event.Emit(e.bus, EncounterEnded{Encounter: enc})
	event.Emit(e.bus, HistoryChanged{})
}

func (e *Engine) trimHistoryLocked() bool {
	max := e.settings.MaxHistory()
	if max < 0 {
		max = 0
	}
	if len(e.history) <= max {
		return false
	}
	e.history = e.history[:max]
	e.met.HistoryLength.Set(float64(len(e.history)))
	return true
}

// ApplySettings reacts to a runtime settings change: re-bound the history
// and recompute the remaining idle time, ending the encounter immediately
// when the new timeout has already elapsed.
func (e *Engine) ApplySettings() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trimHistoryLocked() {
		event.Emit(e.bus, HistoryChanged{})
	}

	if e.current == nil || !e.current.IsActive {
		return
	}
	timeout := e.settings.ResetTimer()
	if timeout <= 0 {
		if e.timer != nil {
			e.timer.Stop()
		}
		return
	}
	remaining := timeout - e.now().Sub(e.current.LastActivity)
	if remaining <= 0 {
		e.finalizeLocked()
		return
	}
	if e.timer == nil {
		e.timer = time.AfterFunc(remaining, e.onIdleTimer)
		return
	}
	e.timer.Stop()
	e.timer.Reset(remaining)
}

func (e *Engine) stopTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
}

// --- outward accessors (UI collaborator) ---

// Current returns the current encounter reference, which may already be
// finalized.
func (e *Engine) Current() *Encounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// History returns a snapshot of the finalized encounters, most recent
// first.
func (e *Engine) History() []*Encounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Encounter, len(e.history))
	copy(out, e.history)
	return out
}

// Select pins the selection to history index idx, or back to the current
// encounter when idx is negative.
func (e *Engine) Select(idx int) {
	e.mu.Lock()
	if idx < 0 || idx >= len(e.history) {
		e.selected = nil
	} else {
		e.selected = e.history[idx]
	}
	sel := e.selected
	if sel == nil {
		sel = e.current
	}
	e.mu.Unlock()
	event.Emit(e.bus, SelectedEncounterChanged{Encounter: sel})
}

// Selected returns the selected encounter, defaulting to the current one.
func (e *Engine) Selected() *Encounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected != nil {
		return e.selected
	}
	return e.current
}
