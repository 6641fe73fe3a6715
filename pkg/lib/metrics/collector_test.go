package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/SanjoDeundiak/childproc/pkg/lib/process"
)

func run(t *testing.T, c *Collector, cfg *process.Config) *process.Handle {
	t.Helper()
	h := process.New(cfg, process.WithObserver(c))
	require.NoError(t, h.Run())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not terminate in time")
	}
	return h
}

func TestCollector_CountsLifecycle(t *testing.T) {
	c := NewCollector("childproc")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	run(t, c, &process.Config{Path: "/bin/sh", Args: []string{"-c", "exit 2"}})
	run(t, c, &process.Config{Path: "/bin/sh", Args: []string{"-c", "kill -KILL $$"}})

	require.Error(t, process.New(&process.Config{Path: "/no/such/binary"}, process.WithObserver(c)).Run())
	require.Error(t, process.New(&process.Config{}, process.WithObserver(c)).Run())

	// Terminated is reported after Done closes
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.terminations.WithLabelValues("exit")) == 1 &&
			testutil.ToFloat64(c.terminations.WithLabelValues("uncaught-signal")) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.spawns))
	require.Equal(t, 0.0, testutil.ToFloat64(c.running))
	require.Equal(t, 1.0, testutil.ToFloat64(c.spawnErrors.WithLabelValues("file-not-found")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.spawnErrors.WithLabelValues("configuration")))

	n, err := testutil.GatherAndCount(reg, "childproc_process_lifetime_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
