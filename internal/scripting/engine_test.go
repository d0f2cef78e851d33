package scripting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/resonance/meter/internal/combat"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func testEncounter() *combat.Encounter {
	start := time.Now().Add(-10 * time.Second)
	return &combat.Encounter{
		StartTime:    start,
		LastActivity: start.Add(10 * time.Second),
		Attackers: map[uint64]*combat.AttackerStats{
			0x4b0: {
				UID:         0x4b0,
				Name:        "Riven",
				SpecName:    "Iaido",
				ClassID:     1,
				TotalDamage: 5000,
				DamageCount: 10,
			},
		},
	}
}

func TestMissingDirIsFine(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	// No hooks defined: calls are no-ops.
	e.OnEncounterEnd(testEncounter())
	e.OnServerChange()
}

func TestOnEncounterEndHook(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "meter.lua", `
total = 0
top_name = ""
function on_encounter_end(summary)
    total = summary.total_damage
    top_name = summary.attackers[1].name
end
`)

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	e.OnEncounterEnd(testEncounter())

	assert.Equal(t, lua.LNumber(5000), e.vm.GetGlobal("total"))
	assert.Equal(t, lua.LString("Riven"), e.vm.GetGlobal("top_name"))
}

func TestOnServerChangeHook(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "meter.lua", `
changes = 0
function on_server_change()
    changes = changes + 1
end
`)

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	e.OnServerChange()
	e.OnServerChange()
	assert.Equal(t, lua.LNumber(2), e.vm.GetGlobal("changes"))
}

func TestHookErrorIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "meter.lua", `
function on_encounter_end(summary)
    error("hook blew up")
end
`)

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.NotPanics(t, func() { e.OnEncounterEnd(testEncounter()) })
}

func TestBrokenScriptFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", `function (`)
	_, err := NewEngine(dir, zap.NewNop())
	assert.Error(t, err)
}
