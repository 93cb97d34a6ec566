package transport

// These are the outbound message shapes the device ever sends, defined as
// ordered structs so the wire representation is deterministic (map[string]any
// would sort keys alphabetically, which does not match the ADM's expected
// encoding — see spec.md §9 and spec.md §8 testable properties).

// LoginEnvelope is the one-time handshake frame sent immediately after
// connecting (spec.md §4.3 step 3). FOTA fields are omitted from the wire
// entirely when no valid runtime record exists — hence the pointer/omitempty
// fields rather than zero values, matching zadm.py's conditional `data["bc"]=...`.
type LoginEnvelope struct {
	UID       string `json:"uid"`
	Token     string `json:"token"`
	Platform  string `json:"platform"`
	VMUID     string `json:"vmuid"`
	Heartbeat int    `json:"hearbeat"` // wire-canonical misspelling, see spec.md §9
	OTA       bool   `json:"ota"`
	BC        *int64 `json:"bc,omitempty"`
	VM        *int64 `json:"vm,omitempty"`
	Chunk     *int64 `json:"chunk,omitempty"`
}

// Heartbeat is the periodic keepalive frame.
type Heartbeat struct {
	Cmd string `json:"cmd"`
}

func NewHeartbeat() Heartbeat { return Heartbeat{Cmd: "HTBM"} }

// Event wraps an application-supplied payload for send_event.
type Event struct {
	Cmd     string `json:"cmd"`
	Payload any    `json:"payload"`
}

func NewEvent(payload any) Event { return Event{Cmd: "EVNT", Payload: payload} }

// NotificationPayload is the body of a send_notification call. Field order
// (text before title) matches spec.md §8 testable properties exactly.
type NotificationPayload struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

type Notification struct {
	Cmd     string               `json:"cmd"`
	Payload NotificationPayload  `json:"payload"`
}

func NewNotification(title, text string) Notification {
	return Notification{Cmd: "NTFY", Payload: NotificationPayload{Text: text, Title: title}}
}

// Return is the RPC result/error frame (C5).
type Return struct {
	Cmd   string `json:"cmd"`
	ID    any    `json:"id"`
	Res   any    `json:"res,omitempty"`
	Error string `json:"error,omitempty"`
}

func NewReturnResult(id any, res any) Return {
	return Return{Cmd: "RETN", ID: id, Res: res}
}

func NewReturnError(id any, errMsg string) Return {
	return Return{Cmd: "RETN", ID: id, Error: errMsg}
}

// Raw is an escape hatch for callers of Device.Send that already have a
// fully-shaped message (spec.md §8.8 send(msg)).
type Raw = Message

// OTA wraps any FOTA sub-protocol payload (spec.md §4.6/§6).
type OTA struct {
	Cmd     string `json:"cmd"`
	Payload any    `json:"payload"`
}

func NewOTA(payload any) OTA { return OTA{Cmd: "OTA", Payload: payload} }

// OTABlockRequest asks the ADM for block B of image kind T.
type OTABlockRequest struct {
	B int64  `json:"b"`
	T string `json:"t"`
}

// OTACRCRequest asks the ADM for the checksum of image kind T (C is always
// sent as 0 — the field exists on the wire but carries no information,
// matching zadm.py's {"c":0,"t":...}).
type OTACRCRequest struct {
	C int64  `json:"c"`
	T string `json:"t"`
}

// OTAReady acknowledges that the device's current slots match what the ADM
// expects (the "ok" exchange of spec.md §4.6).
type OTAReady struct {
	OK int `json:"ok"`
}

// OTAFail aborts the in-progress transfer with a reason.
type OTAFail struct {
	KO     int    `json:"ko"`
	Reason string `json:"reason"`
}
