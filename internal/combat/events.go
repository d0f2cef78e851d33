package combat

// Typed events emitted on the bus for outward subscribers (UI, archive,
// script hooks). Delivered in engine-processing order.

// ServerChanged fires when the active game-server flow switches.
type ServerChanged struct{}

// EncounterStarted fires when the first combat-extending event opens a new
// encounter.
type EncounterStarted struct {
	Encounter *Encounter
}

// EncounterUpdated fires after every processed damage record.
type EncounterUpdated struct {
	Encounter *Encounter
}

// EncounterEnded fires when the idle timeout finalizes an encounter.
type EncounterEnded struct {
	Encounter *Encounter
}

// HistoryChanged fires whenever the finalized-encounter history mutates.
type HistoryChanged struct{}

// SelectedEncounterChanged fires when the selection moves. A nil Encounter
// means the selection follows the current encounter again.
type SelectedEncounterChanged struct {
	Encounter *Encounter
}
