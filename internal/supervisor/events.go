package supervisor

import (
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/process"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
)

func spawnedEvent(pid int, entry string, restartCount int) protocol.Event {
	return protocol.NewEvent(protocol.TypeAgentSpawned, map[string]any{
		"pid":          pid,
		"entry":        entry,
		"restartCount": restartCount,
	})
}

// exitEvent reports code as null for signal deaths and signal as null for
// normal exits.
func exitEvent(st process.ExitStatus, crashed bool, extra map[string]any) protocol.Event {
	fields := map[string]any{
		"code":    nil,
		"signal":  nil,
		"crashed": crashed,
	}
	if st.Code >= 0 {
		fields["code"] = st.Code
	}
	if st.Signal != "" {
		fields["signal"] = st.Signal
	}
	for k, v := range extra {
		fields[k] = v
	}
	return protocol.NewEvent(protocol.TypeAgentExit, fields)
}

func errorEvent(err error) protocol.Event {
	return protocol.NewEvent(protocol.TypeAgentError, map[string]any{
		"error": err.Error(),
	})
}
