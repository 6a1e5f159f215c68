package supervisor

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

// Lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// Lifecycle events, named by the transition they cause.
const (
	eventStart       = "start"
	eventSpawned     = "spawned"
	eventSpawnFailed = "spawn_failed"
	eventCrash       = "crash"
	eventStop        = "stop"
	eventStopped     = "stopped"
)

func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{StateStopped}, Dst: StateStarting},
			{Name: eventSpawned, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventSpawnFailed, Src: []string{StateStarting}, Dst: StateStopped},
			{Name: eventCrash, Src: []string{StateRunning}, Dst: StateStopped},
			// Stop is legal from stopped: a crashed supervisor may still hold
			// pending requests that Stop must reject.
			{Name: eventStop, Src: []string{StateStopped, StateStarting, StateRunning}, Dst: StateStopping},
			{Name: eventStopped, Src: []string{StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{},
	)
}

// fire applies a lifecycle event. Callers hold s.mu.
func (s *Supervisor) fire(event string) {
	err := s.lifecycle.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	log.Error(log.CatSupervisor, "invalid lifecycle transition",
		"event", event, "state", s.lifecycle.Current(), "error", err)
}
