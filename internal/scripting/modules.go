package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine Lua table into L:
//
//	engine.mode                          the game mode the VM serves
//	engine.log.{debug,info,warn,error}   write a message to the server log
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState, mode string) {
	engine := L.NewTable()
	L.SetField(engine, "mode", lua.LString(mode))

	logTbl := L.NewTable()
	levels := map[string]func(string, ...zap.Field){
		"debug": m.logger.Debug,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
	}
	for name, fn := range levels {
		L.SetField(logTbl, name, L.NewFunction(func(L *lua.LState) int {
			fn("lua", zap.String("mode", mode), zap.String("msg", L.CheckString(1)))
			return 0
		}))
	}
	L.SetField(engine, "log", logTbl)

	L.SetGlobal("engine", engine)
}
