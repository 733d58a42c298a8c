// Package input translates UI events into device injection. A key and a
// mouse processor are selected at session build time; implementations for a
// role are mutually exclusive, never stacked.
package input

// KeyEvent is a translated keyboard event.
type KeyEvent struct {
	Action  uint8 // protocol.ActionDown / ActionUp
	Keycode uint32
	Repeat  uint32
	Meta    uint32
}

// TouchEvent is a translated pointer event in stream coordinates.
type TouchEvent struct {
	Action       uint8
	PointerID    uint64
	X, Y         uint32
	Width        uint16
	Height       uint16
	Pressure     uint16
	ActionButton uint32
	Buttons      uint32
}

// ScrollEvent is a translated wheel event in stream coordinates.
type ScrollEvent struct {
	X, Y    uint32
	Width   uint16
	Height  uint16
	HScroll uint16
	VScroll uint16
	Buttons uint32
}

// KeyProcessor injects keyboard events. Best effort: failures are logged by
// the implementation, never surfaced to the caller.
type KeyProcessor interface {
	ProcessKey(ev KeyEvent)
}

// MouseProcessor injects pointer events.
type MouseProcessor interface {
	ProcessTouch(ev TouchEvent)
	ProcessScroll(ev ScrollEvent)
}
