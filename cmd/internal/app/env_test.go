package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("COURIER_TEST_STR", "  hello  ")
	t.Setenv("COURIER_TEST_BOOL", "true")
	t.Setenv("COURIER_TEST_INT", "42")
	t.Setenv("COURIER_TEST_INT32", "7")
	t.Setenv("COURIER_TEST_DUR", "90s")
	t.Setenv("COURIER_TEST_CSV", "a, b ,,c")

	if got := EnvString("COURIER_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("COURIER_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if !EnvBool("COURIER_TEST_BOOL", false) {
		t.Fatalf("EnvBool=false want true")
	}
	if got := EnvInt("COURIER_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt32("COURIER_TEST_INT32", 1); got != 7 {
		t.Fatalf("EnvInt32=%d", got)
	}
	if got := EnvDuration("COURIER_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvCSV("COURIER_TEST_CSV", ""); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("EnvCSV=%v", got)
	}
}

func TestEnvHelpersRejectInvalid(t *testing.T) {
	t.Setenv("COURIER_TEST_INT", "-5")
	t.Setenv("COURIER_TEST_BOOL", "yep")
	t.Setenv("COURIER_TEST_DUR", "fast")

	if got := EnvInt("COURIER_TEST_INT", 9); got != 9 {
		t.Fatalf("EnvInt negative=%d want default 9", got)
	}
	if got := EnvBool("COURIER_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool invalid should fall back to default")
	}
	if got := EnvDuration("COURIER_TEST_DUR", 2*time.Second); got != 2*time.Second {
		t.Fatalf("EnvDuration invalid=%v want default", got)
	}
}
