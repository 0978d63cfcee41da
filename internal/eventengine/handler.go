package eventengine

import (
	"unsafe"

	"github.com/tathienbao/quant-bot/internal/event"
)

// HandlerFunc is the generic handler contract (§6): a function invoked
// with one Event. Panics are caught and counted by the engine; they never
// propagate to the caller of Send.
type HandlerFunc func(event.Event)

type handlerEntry struct {
	id  int
	ptr uintptr
	fn  HandlerFunc
}

// funcIdentity returns a stable identity for fn, used to de-duplicate
// registrations of the same function object for the same event type
// (§4.5 register_event_handler). A Go func value is a pointer to its
// closure object, and that pointer is what is returned here: passing the
// same func value twice yields the same identity, while two distinct
// closures created from the same function literal do not compare equal,
// matching the "same function object" semantics the source implements
// via Python's function identity.
func funcIdentity(fn HandlerFunc) uintptr {
	return *(*uintptr)(unsafe.Pointer(&fn))
}
