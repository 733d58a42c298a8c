package protocol

import "encoding/binary"

// Outgoing control message types (client -> device).
const (
	TypeInjectKeycode      uint8 = 0
	TypeInjectText         uint8 = 1
	TypeInjectTouchEvent   uint8 = 2
	TypeInjectScrollEvent  uint8 = 3
	TypeBackOrScreenOn     uint8 = 4
	TypeExpandNotification uint8 = 5
	TypeExpandSettings     uint8 = 6
	TypeCollapsePanels     uint8 = 7
	TypeGetClipboard       uint8 = 8
	TypeSetClipboard       uint8 = 9
	TypeSetDisplayPower    uint8 = 10
	TypeRotateDevice       uint8 = 11
	TypeUHIDCreate         uint8 = 12
	TypeUHIDInput          uint8 = 13
	TypeUHIDDestroy        uint8 = 14
	TypeOpenHardKeyboard   uint8 = 15
	TypeStartApp           uint8 = 16
	TypeResetVideo         uint8 = 17
)

// Key/touch action codes (AKEY_EVENT_* / AMOTION_EVENT_*).
const (
	ActionDown uint8 = 0
	ActionUp   uint8 = 1
	ActionMove uint8 = 2
)

// Copy-key values for GetClipboard.
const (
	CopyKeyNone uint8 = 0
	CopyKeyCopy uint8 = 1
	CopyKeyCut  uint8 = 2
)

// ControlMsg is an outgoing command serialized onto the control socket.
// Ownership transfers to the controller queue on push.
type ControlMsg interface {
	MsgType() uint8
	Serialize() []byte
}

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

func (e TouchEvent) MsgType() uint8 { return TypeInjectTouchEvent }

func (e TouchEvent) Serialize() []byte {
	buf := make([]byte, 32)
	buf[0] = e.MsgType()
	buf[1] = e.Action
	binary.BigEndian.PutUint64(buf[2:10], e.PointerID)
	binary.BigEndian.PutUint32(buf[10:14], e.X)
	binary.BigEndian.PutUint32(buf[14:18], e.Y)
	binary.BigEndian.PutUint16(buf[18:20], e.Width)
	binary.BigEndian.PutUint16(buf[20:22], e.Height)
	binary.BigEndian.PutUint16(buf[22:24], e.Pressure)
	binary.BigEndian.PutUint32(buf[24:28], e.ActionButton)
	binary.BigEndian.PutUint32(buf[28:32], e.Buttons)
	return buf
}

type KeyEvent struct {
	Action  uint8
	Keycode uint32
	Repeat  uint32
	Meta    uint32
}

func (e KeyEvent) MsgType() uint8 { return TypeInjectKeycode }

func (e KeyEvent) Serialize() []byte {
	buf := make([]byte, 14)
	buf[0] = e.MsgType()
	buf[1] = e.Action
	binary.BigEndian.PutUint32(buf[2:6], e.Keycode)
	binary.BigEndian.PutUint32(buf[6:10], e.Repeat)
	binary.BigEndian.PutUint32(buf[10:14], e.Meta)
	return buf
}

type ScrollEvent struct {
	X, Y    uint32
	Width   uint16
	Height  uint16
	HScroll uint16
	VScroll uint16
	Buttons uint32
}

func (e ScrollEvent) MsgType() uint8 { return TypeInjectScrollEvent }

func (e ScrollEvent) Serialize() []byte {
	buf := make([]byte, 21)
	buf[0] = e.MsgType()
	binary.BigEndian.PutUint32(buf[1:5], e.X)
	binary.BigEndian.PutUint32(buf[5:9], e.Y)
	binary.BigEndian.PutUint16(buf[9:11], e.Width)
	binary.BigEndian.PutUint16(buf[11:13], e.Height)
	binary.BigEndian.PutUint16(buf[13:15], e.HScroll)
	binary.BigEndian.PutUint16(buf[15:17], e.VScroll)
	binary.BigEndian.PutUint32(buf[17:21], e.Buttons)
	return buf
}

type SetClipboard struct {
	Sequence uint64
	Paste    bool
	Text     []byte
}

func (e SetClipboard) MsgType() uint8 { return TypeSetClipboard }

func (e SetClipboard) Serialize() []byte {
	buf := make([]byte, 14+len(e.Text))
	buf[0] = e.MsgType()
	binary.BigEndian.PutUint64(buf[1:9], e.Sequence)
	if e.Paste {
		buf[9] = 1
	}
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(e.Text)))
	copy(buf[14:], e.Text)
	return buf
}

type GetClipboard struct {
	CopyKey uint8
}

func (e GetClipboard) MsgType() uint8 { return TypeGetClipboard }

func (e GetClipboard) Serialize() []byte {
	return []byte{e.MsgType(), e.CopyKey}
}

type SetDisplayPower struct {
	On bool
}

func (e SetDisplayPower) MsgType() uint8 { return TypeSetDisplayPower }

func (e SetDisplayPower) Serialize() []byte {
	buf := []byte{e.MsgType(), 0}
	if e.On {
		buf[1] = 1
	}
	return buf
}

type RotateDevice struct{}

func (RotateDevice) MsgType() uint8    { return TypeRotateDevice }
func (RotateDevice) Serialize() []byte { return []byte{TypeRotateDevice} }

type StartApp struct {
	Name string
}

func (e StartApp) MsgType() uint8 { return TypeStartApp }

func (e StartApp) Serialize() []byte {
	buf := make([]byte, 2+len(e.Name))
	buf[0] = e.MsgType()
	buf[1] = uint8(len(e.Name))
	copy(buf[2:], e.Name)
	return buf
}

type ResetVideo struct{}

func (ResetVideo) MsgType() uint8    { return TypeResetVideo }
func (ResetVideo) Serialize() []byte { return []byte{TypeResetVideo} }

type UHIDCreate struct {
	ID         uint16
	VendorID   uint16
	ProductID  uint16
	Name       string
	ReportDesc []byte
}

func (e UHIDCreate) MsgType() uint8 { return TypeUHIDCreate }

func (e UHIDCreate) Serialize() []byte {
	nameLen := len(e.Name)
	if nameLen > 255 {
		nameLen = 255
	}
	buf := make([]byte, 0, 10+nameLen+len(e.ReportDesc))
	buf = append(buf, e.MsgType())
	buf = binary.BigEndian.AppendUint16(buf, e.ID)
	buf = binary.BigEndian.AppendUint16(buf, e.VendorID)
	buf = binary.BigEndian.AppendUint16(buf, e.ProductID)
	buf = append(buf, uint8(nameLen))
	buf = append(buf, e.Name[:nameLen]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.ReportDesc)))
	buf = append(buf, e.ReportDesc...)
	return buf
}

type UHIDInput struct {
	ID   uint16
	Data []byte
}

func (e UHIDInput) MsgType() uint8 { return TypeUHIDInput }

func (e UHIDInput) Serialize() []byte {
	buf := make([]byte, 0, 5+len(e.Data))
	buf = append(buf, e.MsgType())
	buf = binary.BigEndian.AppendUint16(buf, e.ID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Data)))
	buf = append(buf, e.Data...)
	return buf
}

type UHIDDestroy struct {
	ID uint16
}

func (e UHIDDestroy) MsgType() uint8 { return TypeUHIDDestroy }

func (e UHIDDestroy) Serialize() []byte {
	buf := make([]byte, 3)
	buf[0] = e.MsgType()
	binary.BigEndian.PutUint16(buf[1:3], e.ID)
	return buf
}
