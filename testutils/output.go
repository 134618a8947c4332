package testutils

import (
	"testing"

	"github.com/goccy/go-json"
)

// LogJSON writes v to the test log as indented JSON. Only shown with -v or on failure.
func LogJSON(t testing.TB, v interface{}) {
	t.Helper()

	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	t.Logf("%T:\n%s", v, blob)
}
