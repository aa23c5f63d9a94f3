package avlog

import "testing"

func TestSetMaskAndMaskRoundTrip(t *testing.T) {
	orig := Mask()
	defer SetMask(orig)

	SetMask(LevelError | LevelDebug)
	if Mask() != LevelError|LevelDebug {
		t.Fatalf("Mask() = %b, want %b", Mask(), LevelError|LevelDebug)
	}
	if !enabled(LevelDebug) {
		t.Fatal("LevelDebug should be enabled after SetMask")
	}
	if enabled(LevelSyscall) {
		t.Fatal("LevelSyscall should not be enabled")
	}
}

func TestDefaultMaskEnablesErrorAndWarningOnly(t *testing.T) {
	orig := Mask()
	defer SetMask(orig)

	SetMask(defaultMask)
	if !enabled(LevelError) || !enabled(LevelWarning) {
		t.Fatal("default mask should enable ERROR and WARNING")
	}
	if enabled(LevelSyscall) || enabled(LevelDebug) {
		t.Fatal("default mask should not enable SYSCALL or DEBUG")
	}
}

// TestLoggingFunctionsDoNotPanic exercises every level's call path,
// including the gated-out branch, through the real Init() singleton.
func TestLoggingFunctionsDoNotPanic(t *testing.T) {
	orig := Mask()
	defer SetMask(orig)

	SetMask(LevelError | LevelWarning | LevelSyscall | LevelDebug)
	Error("boom", "code", 1)
	Warning("careful", "code", 2)
	Syscall("open", "path", "/a")
	Debug("internal state", "n", 3)

	SetMask(0)
	Error("suppressed")
	Debug("suppressed")
}
