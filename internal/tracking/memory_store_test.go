package tracking_test

import (
	"testing"

	"github.com/banshee-data/trackwatch/internal/testutil"
	"github.com/banshee-data/trackwatch/internal/tracking"
)

func TestMemoryStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) tracking.Store {
		return tracking.NewMemoryStore()
	})
}
