package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/infrastructure/sqlite"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/metrics"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
)

// agent is a supervisor plus the resources it owns.
type agent struct {
	sup     *supervisor.Supervisor
	tracing *tracing.Provider
	metrics *metrics.Recorder
	db      *sqlite.DB
}

// newAgent builds a supervisor from cfg. Crash history is persisted when
// the database opens; a failure there is logged and otherwise ignored.
func newAgent(sink supervisor.Sink, withMetrics bool) (*agent, error) {
	tp, err := tracing.NewProvider(cfg.Tracing.TracingConfig(tracing.RoleSupervisor))
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	a := &agent{tracing: tp}
	if withMetrics {
		a.metrics = metrics.New()
	}

	scfg := cfg.SupervisorConfig()
	if used := configFileUsed(); used != "" {
		scfg.Env = append(scfg.Env, configEnv+"="+used)
	}
	scfg.Sink = sink
	scfg.Metrics = a.metrics
	scfg.Tracer = tp.Tracer()

	db, err := sqlite.NewDB(cfg.Worker.DBPath)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open database, crash history not persisted", err, "path", cfg.Worker.DBPath)
	} else {
		a.db = db
		scfg.Crashes = db.CrashRepository()
	}

	a.sup = supervisor.New(scfg)
	return a, nil
}

// close shuts the supervisor down, then flushes traces and closes the
// database.
func (a *agent) close(ctx context.Context) error {
	err := a.sup.Shutdown(ctx)
	if tErr := a.tracing.Shutdown(ctx); tErr != nil {
		err = errors.Join(err, fmt.Errorf("flushing traces: %w", tErr))
	}
	if a.db != nil {
		if dbErr := a.db.Close(); dbErr != nil {
			err = errors.Join(err, fmt.Errorf("closing database: %w", dbErr))
		}
	}
	return err
}

// workerEntry returns the worker executable the supervisor will launch.
func workerEntry() (string, error) {
	if cfg.Supervisor.Entry != "" {
		return cfg.Supervisor.Entry, nil
	}
	return os.Executable()
}

// ndjsonSink writes every forwarded message to w, one per line.
func ndjsonSink(w io.Writer) supervisor.Sink {
	var mu sync.Mutex
	return func(msg protocol.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(append(append([]byte(nil), msg.Raw...), '\n'))
	}
}
