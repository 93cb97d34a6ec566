package fota

// Callback is the user-supplied FOTA checkpoint function (spec.md §3/§4.6).
// It is invoked exactly at EventValidated, EventPreAttempt, and
// EventPreReset; a false return vetoes the transfer.
type Callback func(event CallbackEvent) bool

// gate invokes cb (if configured) for event and reports whether the
// transfer should continue. A nil Callback always continues — the
// fota_callback parameter is optional (spec.md §3).
//
// This is C7, the FOTA Callback Gate: a pure wrapper with no state of its
// own (spec.md §4.7). The Machine is responsible for calling fail and
// skipping the rest of the current message's processing when gate returns
// false; the gate itself only decides yes/no.
func gate(cb Callback, event CallbackEvent) bool {
	if cb == nil {
		return true
	}
	return cb(event)
}
