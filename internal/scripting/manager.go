package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// GlobalMode is the reserved key for scripts shared by every game mode.
// CallHook falls back to this VM when a mode has no VM of its own.
const GlobalMode = "__global__"

type modeVM struct {
	mu     sync.Mutex
	L      *lua.LState
	cancel context.CancelFunc
	limit  int
}

// Manager owns one sandboxed LState per game mode and exposes hook dispatch.
//
// Manager is safe for concurrent use. Calls into the same mode's VM are
// serialized; different modes run independently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*modeVM
	logger *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no modes loaded.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		vms:    make(map[string]*modeVM),
		logger: logger,
	}
}

// LoadMode creates a sandboxed VM for mode, registers the engine module,
// then executes every *.lua file in scriptDir in lexicographic order.
//
// Precondition: mode must be non-empty; scriptDir must be a readable directory.
// Postcondition: the mode VM replaces any previous one; returns error on Lua load failure.
func (m *Manager) LoadMode(mode, scriptDir string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L, mode)

	files, err := luaFiles(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, mode, err)
	}

	for _, path := range files {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, mode, err)
		}
	}

	vm := &modeVM{L: L, cancel: cancel, limit: instLimit}
	m.mu.Lock()
	old := m.vms[mode]
	m.vms[mode] = vm
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	m.logger.Info("scripting: mode loaded",
		zap.String("mode", mode),
		zap.Int("files", len(files)),
	)
	return nil
}

// LoadGlobal creates the GlobalMode VM from scriptDir.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	return m.LoadMode(GlobalMode, scriptDir, instLimit)
}

// LoadDir loads every subdirectory of root as the game mode of the same
// name. Lua files directly under root form the GlobalMode VM.
//
// Precondition: root must be a readable directory.
func (m *Manager) LoadDir(root string, instLimit int) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("scripting: reading scripts root %q: %w", root, err)
	}
	hasGlobal := false
	for _, e := range entries {
		if e.IsDir() {
			if err := m.LoadMode(e.Name(), filepath.Join(root, e.Name()), instLimit); err != nil {
				return err
			}
			continue
		}
		if filepath.Ext(e.Name()) == ".lua" {
			hasGlobal = true
		}
	}
	if hasGlobal {
		return m.LoadMode(GlobalMode, root, instLimit)
	}
	return nil
}

// Modes returns the loaded mode names, sorted.
func (m *Manager) Modes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vms))
	for k := range m.vms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CallHook calls the named Lua global function in mode's VM. If the mode has
// no VM, the GlobalMode VM is tried as a fallback. Returns (LNil, nil) if the
// hook is not defined or no VM exists. Lua runtime errors, including an
// exhausted instruction budget, are logged at Warn level and never
// propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(mode, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	vm, ok := m.vms[mode]
	if !ok {
		vm = m.vms[GlobalMode]
	}
	m.mu.RUnlock()

	if vm == nil {
		m.logger.Debug("scripting: no VM for mode",
			zap.String("mode", mode),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.L == nil {
		return lua.LNil, nil
	}

	fn := vm.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, nil
	}

	vm.cancel()
	vm.cancel = ResetBudget(vm.L, vm.limit)
	if err := vm.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("mode", mode),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := vm.L.Get(-1)
	vm.L.Pop(1)
	return ret, nil
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*modeVM)
	m.mu.Unlock()
	for _, vm := range vms {
		vm.close()
	}
}

func (vm *modeVM) close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.L == nil {
		return
	}
	vm.cancel()
	vm.L.Close()
	vm.L = nil
}

func luaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
