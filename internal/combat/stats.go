package combat

import (
	"time"

	"github.com/resonance/meter/internal/protocol"
)

// EntityInfo is what an encounter knows about one entity. Fields are set
// on observation and never cleared; a name is never replaced by an invalid
// placeholder.
type EntityInfo struct {
	Type         protocol.EntityType
	Name         string
	ClassID      int32
	SpecName     string
	AbilityScore int64
}

// DamageEvent is one stored combat event.
type DamageEvent struct {
	AttackerUID uint64
	TargetUID   uint64
	Amount      uint64
	Type        protocol.DamageType
	IsCrit      bool
	IsMiss      bool
	Timestamp   time.Time
}

// AttackerStats accumulates one character's contribution to an encounter.
type AttackerStats struct {
	UID          uint64
	Name         string
	ClassID      int32
	SpecName     string
	AbilityScore int64

	TotalDamage uint64
	DamageCount uint64
	CritCount   uint64
	HealingDone uint64

	SkillIDs       map[uint64]struct{}
	DamageBySkill  map[uint64]uint64
	HealingBySkill map[uint64]uint64
}

func newAttackerStats(uid uint64) *AttackerStats {
	return &AttackerStats{
		UID:            uid,
		SkillIDs:       make(map[uint64]struct{}),
		DamageBySkill:  make(map[uint64]uint64),
		HealingBySkill: make(map[uint64]uint64),
	}
}

// DPS derives damage per second over the given encounter duration;
// zero when the duration is not positive.
func (a *AttackerStats) DPS(duration time.Duration) float64 {
	secs := duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(a.TotalDamage) / secs
}
