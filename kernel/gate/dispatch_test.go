package gate

import "testing"

func TestGetFreeVectorSkipsExceptionRange(t *testing.T) {
	saved := reserved
	defer func() { reserved = saved }()

	for i := range reserved {
		reserved[i] = i < 32
	}

	v, ok := GetFreeVector()
	if !ok {
		t.Fatal("expected a free vector to be available")
	}
	if v < 32 {
		t.Fatalf("expected GetFreeVector to skip the exception range, got %d", v)
	}
}

func TestGetFreeVectorExhausted(t *testing.T) {
	saved := reserved
	defer func() { reserved = saved }()

	for i := range reserved {
		reserved[i] = true
	}

	if _, ok := GetFreeVector(); ok {
		t.Fatal("expected GetFreeVector to report exhaustion")
	}
}

func TestRegisterHandlerRecordsUserValue(t *testing.T) {
	savedHandlers, savedUsers, savedReserved, savedInstall := handlers, userValues, reserved, installHandlerFn
	defer func() {
		handlers, userValues, reserved, installHandlerFn = savedHandlers, savedUsers, savedReserved, savedInstall
	}()

	var installedVector InterruptNumber
	installHandlerFn = func(n InterruptNumber, istOffset uint8, handler func(*Registers)) {
		installedVector = n
	}

	type ctx struct{ name string }
	want := &ctx{name: "nic0"}

	RegisterHandler(200, func(vector uint8, errorCode uint64, regs *Registers, user interface{}) {}, want)

	if userValues[200] != want {
		t.Fatalf("expected userValues[200] to be %v, got %v", want, userValues[200])
	}
	if installedVector != 200 {
		t.Fatalf("expected installHandlerFn to be called with vector 200, got %d", installedVector)
	}
	if !reserved[200] {
		t.Fatal("expected vector 200 to be marked reserved after RegisterHandler")
	}
}
