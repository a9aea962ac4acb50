package gate

import "sync"

// Handler receives the vector number, the hardware error code (0 for
// vectors that don't push one), and the register snapshot, plus the
// opaque user value it was registered with.
type Handler func(vector uint8, errorCode uint64, regs *Registers, user interface{})

var (
	mu         sync.Mutex
	handlers   [256]Handler
	userValues [256]interface{}
	reserved   [256]bool

	// installHandlerFn is overridden by tests to avoid touching the real
	// IDT, which only exists once installIDT has run on real hardware.
	installHandlerFn = HandleInterrupt
)

func init() {
	// Vectors 0-31 are the architectural exception range; get_free_vector
	// must never hand one of these out to a device driver.
	for i := 0; i < 32; i++ {
		reserved[i] = true
	}
}

// RegisterHandler installs fn as the handler for vector n, to be invoked
// with user on every occurrence of that interrupt. It implements the
// interrupt plane's register_handler(n, fn, user) operation.
func RegisterHandler(n uint8, fn Handler, user interface{}) {
	mu.Lock()
	defer mu.Unlock()

	handlers[n] = fn
	userValues[n] = user
	reserved[n] = true

	installHandlerFn(InterruptNumber(n), 0, func(regs *Registers) {
		fn(n, regs.Info, regs, user)
	})
}

// GetFreeVector returns the lowest-numbered IRQ vector (32-255) not yet
// claimed by RegisterHandler, for drivers that need to allocate one
// dynamically (e.g. an IOAPIC redirection entry or an MSI vector).
func GetFreeVector() (uint8, bool) {
	mu.Lock()
	defer mu.Unlock()

	for n := 32; n < 256; n++ {
		if !reserved[n] {
			reserved[n] = true
			return uint8(n), true
		}
	}
	return 0, false
}
