package tunable

import "testing"

func TestDefaultsOff(t *testing.T) {
	// the test process is expected to run without the env vars set
	status := GetStatus()
	if status.SplitKDisabled || status.ForceFallback {
		t.Skip("feature-flag env vars set in this environment")
	}
}

func TestSetAndRestoreSplitK(t *testing.T) {
	prev := SplitKDisabled()
	defer SetSplitKDisabled(prev)

	SetSplitKDisabled(true)
	if !SplitKDisabled() {
		t.Error("SetSplitKDisabled(true) should take effect")
	}
	SetSplitKDisabled(false)
	if SplitKDisabled() {
		t.Error("SetSplitKDisabled(false) should take effect")
	}
}

func TestWithSplitKDisabledRestores(t *testing.T) {
	if SplitKDisabled() {
		t.Skip("split-K already disabled in this environment")
	}
	restore := WithSplitKDisabled()
	if !SplitKDisabled() {
		t.Error("WithSplitKDisabled should force the flag on")
	}
	restore()
	if SplitKDisabled() {
		t.Error("restore should return the flag to its prior state")
	}
}

func TestWithForceFallbackRestores(t *testing.T) {
	if ForceFallbackEnabled() {
		t.Skip("force-fallback already enabled in this environment")
	}
	restore := WithForceFallback()
	if !ForceFallbackEnabled() {
		t.Error("WithForceFallback should force the flag on")
	}
	restore()
	if ForceFallbackEnabled() {
		t.Error("restore should return the flag to its prior state")
	}
}

func TestGetStatusReflectsFlags(t *testing.T) {
	restore := WithSplitKDisabled()
	defer restore()

	if !GetStatus().SplitKDisabled {
		t.Error("GetStatus should reflect the live flag state")
	}
}

func TestEnvTrue(t *testing.T) {
	t.Setenv("GEMMFORGE_TEST_FLAG", "1")
	if !envTrue("GEMMFORGE_TEST_FLAG") {
		t.Error(`"1" should parse as true`)
	}
	t.Setenv("GEMMFORGE_TEST_FLAG", "true")
	if !envTrue("GEMMFORGE_TEST_FLAG") {
		t.Error(`"true" should parse as true`)
	}
	t.Setenv("GEMMFORGE_TEST_FLAG", "yes")
	if envTrue("GEMMFORGE_TEST_FLAG") {
		t.Error(`only "1" and "true" enable a flag`)
	}
}
