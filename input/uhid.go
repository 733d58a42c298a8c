package input

import (
	"log"
	"sync"
	"sync/atomic"

	"mirrorcast/control"
	"mirrorcast/protocol"
)

const uhidKeyboardID = 1

// Boot-protocol keyboard report descriptor: 8 modifier bits, one reserved
// byte, six simultaneous key usages.
var keyboardReportDesc = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xa1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xe0, //   Usage Minimum (224)
	0x29, 0xe7, //   Usage Maximum (231)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x01, //   Report Count (1)
	0x81, 0x01, //   Input (Constant)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x06, //   Report Count (6)
	0x81, 0x00, //   Input (Data, Array)
	0xc0, // End Collection
}

// Android keycode -> HID keyboard usage, for the keys a mirroring session
// actually sends. Unmapped keycodes are dropped.
var hidUsage = map[uint32]byte{}

func init() {
	// A..Z: Android 29..54 -> HID 4..29
	for i := uint32(0); i < 26; i++ {
		hidUsage[29+i] = byte(4 + i)
	}
	// 1..9: Android 8..16 -> HID 30..38; 0: Android 7 -> HID 39
	for i := uint32(0); i < 9; i++ {
		hidUsage[8+i] = byte(30 + i)
	}
	hidUsage[7] = 39
	hidUsage[66] = 40  // enter
	hidUsage[111] = 41 // escape
	hidUsage[67] = 42  // backspace
	hidUsage[61] = 43  // tab
	hidUsage[62] = 44  // space
	hidUsage[69] = 45  // minus
	hidUsage[70] = 46  // equals
	hidUsage[71] = 47  // left bracket
	hidUsage[72] = 48  // right bracket
	hidUsage[73] = 49  // backslash
	hidUsage[74] = 51  // semicolon
	hidUsage[75] = 52  // apostrophe
	hidUsage[68] = 53  // grave
	hidUsage[55] = 54  // comma
	hidUsage[56] = 55  // period
	hidUsage[76] = 56  // slash
	hidUsage[112] = 76 // forward delete
	hidUsage[122] = 74 // home
	hidUsage[123] = 77 // end
	hidUsage[92] = 75  // page up
	hidUsage[93] = 78  // page down
	hidUsage[22] = 79  // dpad right
	hidUsage[21] = 80  // dpad left
	hidUsage[20] = 81  // dpad down
	hidUsage[19] = 82  // dpad up
}

// Android meta-key keycodes -> HID modifier bits.
var hidModifier = map[uint32]byte{
	113: 0x01, // ctrl left
	59:  0x02, // shift left
	57:  0x04, // alt left
	117: 0x08, // meta left
	114: 0x10, // ctrl right
	60:  0x20, // shift right
	58:  0x40, // alt right
	118: 0x80, // meta right
}

// UHIDKeyboard injects keys through a kernel-level virtual HID device on the
// Android side, which works even where the input manager is restricted.
type UHIDKeyboard struct {
	pusher  MsgPusher
	acksync *control.AckSync
	clipSeq atomic.Uint64

	mu        sync.Mutex
	modifiers byte
	pressed   [6]byte
}

// NewUHIDKeyboard registers the virtual device on the controller queue.
func NewUHIDKeyboard(pusher MsgPusher, acksync *control.AckSync) *UHIDKeyboard {
	k := &UHIDKeyboard{pusher: pusher, acksync: acksync}
	k.pusher.PushMsg(protocol.UHIDCreate{
		ID:         uhidKeyboardID,
		VendorID:   0,
		ProductID:  0,
		Name:       "mirrorcast keyboard",
		ReportDesc: keyboardReportDesc,
	})
	return k
}

func (k *UHIDKeyboard) ProcessKey(ev KeyEvent) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if bit, ok := hidModifier[ev.Keycode]; ok {
		if ev.Action == protocol.ActionDown {
			k.modifiers |= bit
		} else {
			k.modifiers &^= bit
		}
	} else {
		usage, ok := hidUsage[ev.Keycode]
		if !ok {
			return
		}
		if ev.Action == protocol.ActionDown {
			k.press(usage)
		} else {
			k.release(usage)
		}
	}
	k.sendReportLocked()
}

// OnOutput receives output reports (caps lock LED and friends). Nothing to
// apply client-side; logged for diagnostics.
func (k *UHIDKeyboard) OnOutput(data []byte) {
	log.Printf("[input/uhid] output report: % x", data)
}

// PasteClipboard sets the device clipboard, waits for the acknowledgement,
// then types ctrl+v through the virtual keyboard. The wait guarantees the
// paste happens after the clipboard content landed.
func (k *UHIDKeyboard) PasteClipboard(text string) {
	seq := k.clipSeq.Add(1)
	if !k.pusher.PushMsg(protocol.SetClipboard{Sequence: seq, Text: []byte(text)}) {
		return
	}
	if !k.acksync.WaitFor(seq) {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	savedModifiers := k.modifiers
	k.modifiers = 0x01    // ctrl
	k.press(hidUsage[50]) // v
	k.sendReportLocked()
	k.release(hidUsage[50])
	k.modifiers = savedModifiers
	k.sendReportLocked()
}

func (k *UHIDKeyboard) press(usage byte) {
	for _, u := range k.pressed {
		if u == usage {
			return
		}
	}
	for i, u := range k.pressed {
		if u == 0 {
			k.pressed[i] = usage
			return
		}
	}
}

func (k *UHIDKeyboard) release(usage byte) {
	for i, u := range k.pressed {
		if u == usage {
			k.pressed[i] = 0
		}
	}
}

func (k *UHIDKeyboard) sendReportLocked() {
	report := make([]byte, 8)
	report[0] = k.modifiers
	copy(report[2:], k.pressed[:])
	k.pusher.PushMsg(protocol.UHIDInput{ID: uhidKeyboardID, Data: report})
}

// Destroy unregisters the virtual device.
func (k *UHIDKeyboard) Destroy() {
	k.pusher.PushMsg(protocol.UHIDDestroy{ID: uhidKeyboardID})
}
