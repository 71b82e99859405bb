package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncEnqueued("update_draft")
		IncReplayPass()
		IncVerification("verified")
	})
}

func TestReplayCounters(t *testing.T) {
	before := testutil.ToFloat64(tasksReplayed.WithLabelValues("create_application", OutcomeSuccess))
	IncReplayed("create_application", OutcomeSuccess)
	after := testutil.ToFloat64(tasksReplayed.WithLabelValues("create_application", OutcomeSuccess))
	assert.Equal(t, before+1, after)
}

func TestGauges(t *testing.T) {
	SetQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(queueDepth))

	SetOnline(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(networkOnline))
	SetOnline(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(networkOnline))
}
