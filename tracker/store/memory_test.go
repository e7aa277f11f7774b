package store_test

import (
	"testing"

	"github.com/warp/progress-engine/tracker"
	"github.com/warp/progress-engine/tracker/store"
	"github.com/warp/progress-engine/tracker/storetest"
)

func TestTxMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) tracker.TxStore {
		return store.NewTxMemory()
	})
}
