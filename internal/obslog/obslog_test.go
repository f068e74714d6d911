package obslog

import "testing"

func TestFor_returnsUsableLogger(t *testing.T) {
	l := For("test")
	// Should not panic and should carry the component field; we can't easily
	// assert on output without wiring a buffer, so this is a smoke test.
	Event(l, "smoke_test").Msg("ok")
}

func TestSetLevel_invalidIgnored(t *testing.T) {
	SetLevel("info")
	SetLevel("not-a-level")
	// level stays at whatever it was; no panic.
	_ = For("test")
}
