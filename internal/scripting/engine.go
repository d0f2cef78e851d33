package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/resonance/meter/internal/combat"
)

// Engine wraps a single gopher-lua VM running user hook scripts. Scripts
// may define `on_encounter_end(summary)` and `on_server_change()`; missing
// functions are fine and script errors are logged and swallowed.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all .lua files from dir.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(dir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load hook scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no hooks installed
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded hook script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// OnServerChange invokes the on_server_change hook, if defined.
func (e *Engine) OnServerChange() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.call("on_server_change")
}

// OnEncounterEnd invokes the on_encounter_end hook with a summary table:
// duration_seconds, total_damage, total_healing, and an `attackers` array
// of {uid, name, spec, class_id, total_damage, damage_count, crit_count,
// healing_done, dps}.
func (e *Engine) OnEncounterEnd(enc *combat.Encounter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.vm.GetGlobal("on_encounter_end").(*lua.LFunction)
	if !ok {
		return
	}

	duration := enc.LastActivity.Sub(enc.StartTime)
	summary := e.vm.NewTable()
	summary.RawSetString("duration_seconds", lua.LNumber(duration.Seconds()))
	summary.RawSetString("total_damage", lua.LNumber(enc.TotalDamage()))
	summary.RawSetString("total_healing", lua.LNumber(enc.TotalHealing()))

	attackers := e.vm.NewTable()
	for _, st := range enc.Attackers {
		row := e.vm.NewTable()
		row.RawSetString("uid", lua.LNumber(st.UID))
		row.RawSetString("name", lua.LString(st.Name))
		row.RawSetString("spec", lua.LString(st.SpecName))
		row.RawSetString("class_id", lua.LNumber(st.ClassID))
		row.RawSetString("total_damage", lua.LNumber(st.TotalDamage))
		row.RawSetString("damage_count", lua.LNumber(st.DamageCount))
		row.RawSetString("crit_count", lua.LNumber(st.CritCount))
		row.RawSetString("healing_done", lua.LNumber(st.HealingDone))
		row.RawSetString("dps", lua.LNumber(st.DPS(duration)))
		attackers.Append(row)
	}
	summary.RawSetString("attackers", attackers)

	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, summary); err != nil {
		e.log.Warn("on_encounter_end hook failed", zap.Error(err))
	}
}

func (e *Engine) call(name string) {
	fn, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return
	}
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		e.log.Warn("hook failed", zap.String("hook", name), zap.Error(err))
	}
}
