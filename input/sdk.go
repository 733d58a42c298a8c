package input

import (
	"mirrorcast/protocol"
)

// MsgPusher is the slice of the controller the processors need.
type MsgPusher interface {
	PushMsg(msg protocol.ControlMsg) bool
}

// SDKKeyboard injects keycodes through the device-side input manager.
type SDKKeyboard struct {
	pusher MsgPusher
}

func NewSDKKeyboard(pusher MsgPusher) *SDKKeyboard {
	return &SDKKeyboard{pusher: pusher}
}

func (k *SDKKeyboard) ProcessKey(ev KeyEvent) {
	k.pusher.PushMsg(protocol.KeyEvent{
		Action:  ev.Action,
		Keycode: ev.Keycode,
		Repeat:  ev.Repeat,
		Meta:    ev.Meta,
	})
}

// SDKMouse injects touch events through the device-side input manager.
type SDKMouse struct {
	pusher MsgPusher
}

func NewSDKMouse(pusher MsgPusher) *SDKMouse {
	return &SDKMouse{pusher: pusher}
}

func (m *SDKMouse) ProcessTouch(ev TouchEvent) {
	m.pusher.PushMsg(protocol.TouchEvent{
		Action:       ev.Action,
		PointerID:    ev.PointerID,
		X:            ev.X,
		Y:            ev.Y,
		Width:        ev.Width,
		Height:       ev.Height,
		Pressure:     ev.Pressure,
		ActionButton: ev.ActionButton,
		Buttons:      ev.Buttons,
	})
}

func (m *SDKMouse) ProcessScroll(ev ScrollEvent) {
	m.pusher.PushMsg(protocol.ScrollEvent{
		X:       ev.X,
		Y:       ev.Y,
		Width:   ev.Width,
		Height:  ev.Height,
		HScroll: ev.HScroll,
		VScroll: ev.VScroll,
		Buttons: ev.Buttons,
	})
}
