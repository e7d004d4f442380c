package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	Logf("radio %s offline", "alpha")
	if got != "radio alpha offline" {
		t.Fatalf("Logf produced %q", got)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	// must not panic
	Logf("dropped %d", 1)
	SetLogger(func(format string, v ...interface{}) {})
}
