package eventsub_test

import (
	"testing"

	"github.com/arborly/eventsub/pkg"
)

func TestVersion(t *testing.T) {
	version := eventsub.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
