package rooms

import (
	"testing"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/awareness"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func encodePresence(t *testing.T, clientID, clock uint64, payload []byte) []byte {
	t.Helper()
	return awareness.EncodeEntries(awareness.Entry{ClientID: clientID, Clock: clock, Payload: payload})
}
