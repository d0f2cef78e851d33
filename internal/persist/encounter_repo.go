package persist

import (
	"context"
	"fmt"

	"github.com/resonance/meter/internal/combat"
)

// EncounterRepo archives finalized encounters. Write-behind only: the
// pipeline never reads the archive back.
type EncounterRepo struct {
	db *DB
}

func NewEncounterRepo(db *DB) *EncounterRepo {
	return &EncounterRepo{db: db}
}

// Archive inserts one finalized encounter with its attacker rows in a
// single transaction.
func (r *EncounterRepo) Archive(ctx context.Context, enc *combat.Encounter) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO encounters (started_at, ended_at, duration_ms, total_damage, total_healing)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		enc.StartTime, enc.LastActivity,
		enc.LastActivity.Sub(enc.StartTime).Milliseconds(),
		int64(enc.TotalDamage()), int64(enc.TotalHealing()),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}

	for uid, st := range enc.Attackers {
		_, err = tx.Exec(ctx,
			`INSERT INTO encounter_attackers
			   (encounter_id, uid, name, class_id, spec_name, ability_score,
			    total_damage, damage_count, crit_count, healing_done)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, int64(uid), st.Name, st.ClassID, st.SpecName, st.AbilityScore,
			int64(st.TotalDamage), int64(st.DamageCount), int64(st.CritCount),
			int64(st.HealingDone),
		)
		if err != nil {
			return fmt.Errorf("insert attacker %d: %w", uid, err)
		}
	}

	return tx.Commit(ctx)
}
