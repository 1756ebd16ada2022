package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// tableString gets a string field from a Lua table. Numbers are converted.
func tableString(t *lua.LTable, key string) (string, bool) {
	switch v := t.RawGetString(key).(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	}
	return "", false
}

// tableBool gets a bool field from a Lua table.
func tableBool(t *lua.LTable, key string) (bool, bool) {
	v := t.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b), true
	}
	return false, false
}

// tableTable gets a table field from a Lua table.
func tableTable(t *lua.LTable, key string) (*lua.LTable, bool) {
	v := t.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t, true
	}
	return nil, false
}

// tableList returns the array part of t.
func tableList(t *lua.LTable) []lua.LValue {
	n := t.Len()
	out := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, t.RawGetInt(i))
	}
	return out
}
