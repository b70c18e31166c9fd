package memory

import (
	"testing"

	"github.com/loykin/logship/internal/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, New())
}
