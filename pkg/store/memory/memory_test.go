package memory

import (
	"testing"

	"github.com/alpenclub/tripscope/pkg/store"
	"github.com/alpenclub/tripscope/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
