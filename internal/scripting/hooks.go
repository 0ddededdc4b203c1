package scripting

import lua "github.com/yuin/gopher-lua"

// Hook names called by the game server.
const (
	HookOnKill = "on_kill"
	HookOnChat = "on_chat"
)

// OnKill asks mode's on_kill(attacker, target, default_score) hook for the
// score to award a kill. A missing hook, an error or a non-numeric result
// yields defaultScore; negative results are clamped to zero.
func (m *Manager) OnKill(mode, attackerID, targetID string, defaultScore int) int {
	ret, err := m.CallHook(mode, HookOnKill,
		lua.LString(attackerID), lua.LString(targetID), lua.LNumber(defaultScore))
	if err != nil {
		return defaultScore
	}
	n, ok := ret.(lua.LNumber)
	if !ok {
		return defaultScore
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// OnChat passes a chat message through mode's on_chat(sender, message) hook.
// The hook returns a replacement string, false to drop the message, or
// nothing to keep it unchanged.
//
// Postcondition: ok is false only when the hook returned false.
func (m *Manager) OnChat(mode, senderID, message string) (string, bool) {
	ret, err := m.CallHook(mode, HookOnChat, lua.LString(senderID), lua.LString(message))
	if err != nil {
		return message, true
	}
	switch v := ret.(type) {
	case lua.LString:
		return string(v), true
	case lua.LBool:
		if !bool(v) {
			return "", false
		}
	}
	return message, true
}
