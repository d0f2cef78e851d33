package combat

import "time"

// Encounter is one bounded combat interval. Engine-owned; all mutation
// happens under the engine mutex.
type Encounter struct {
	StartTime    time.Time
	LastActivity time.Time
	IsActive     bool

	Attackers map[uint64]*AttackerStats
	Events    []DamageEvent
	Entities  map[uint64]*EntityInfo
}

func newEncounter(now time.Time) *Encounter {
	return &Encounter{
		StartTime:    now,
		LastActivity: now,
		IsActive:     true,
		Attackers:    make(map[uint64]*AttackerStats),
		Entities:     make(map[uint64]*EntityInfo),
	}
}

// Duration is the encounter's elapsed combat time: up to now while active,
// frozen at the last activity once finalized.
func (e *Encounter) Duration(now time.Time) time.Duration {
	end := e.LastActivity
	if e.IsActive {
		end = now
	}
	return end.Sub(e.StartTime)
}

// LatestEventTime returns the timestamp of the newest stored event.
func (e *Encounter) LatestEventTime() (time.Time, bool) {
	if len(e.Events) == 0 {
		return time.Time{}, false
	}
	latest := e.Events[0].Timestamp
	for _, ev := range e.Events[1:] {
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return latest, true
}

// entity returns the encounter's info record for uid, creating it on first
// observation.
func (e *Encounter) entity(uid uint64) *EntityInfo {
	info, ok := e.Entities[uid]
	if !ok {
		info = &EntityInfo{}
		e.Entities[uid] = info
	}
	return info
}

// TotalDamage sums all attacker damage.
func (e *Encounter) TotalDamage() uint64 {
	var total uint64
	for _, a := range e.Attackers {
		total += a.TotalDamage
	}
	return total
}

// TotalHealing sums all attacker healing.
func (e *Encounter) TotalHealing() uint64 {
	var total uint64
	for _, a := range e.Attackers {
		total += a.HealingDone
	}
	return total
}
