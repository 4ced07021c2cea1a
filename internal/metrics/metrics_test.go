package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("authenticated", "login"))
	RecordTransition("authenticated", "login")
	RecordTransition("authenticated", "login")
	require.Equal(t, before+2, testutil.ToFloat64(TransitionsTotal.WithLabelValues("authenticated", "login")))
}

func TestRecordUnauthorized(t *testing.T) {
	yes := testutil.ToFloat64(UnauthorizedResponsesTotal.WithLabelValues("true"))
	no := testutil.ToFloat64(UnauthorizedResponsesTotal.WithLabelValues("false"))

	RecordUnauthorized(true)
	RecordUnauthorized(false)
	RecordUnauthorized(false)

	require.Equal(t, yes+1, testutil.ToFloat64(UnauthorizedResponsesTotal.WithLabelValues("true")))
	require.Equal(t, no+2, testutil.ToFloat64(UnauthorizedResponsesTotal.WithLabelValues("false")))
}

func TestRecordRefresh(t *testing.T) {
	before := testutil.CollectAndCount(RefreshDurationSeconds)
	RecordRefresh(120 * time.Millisecond)
	require.Equal(t, before, testutil.CollectAndCount(RefreshDurationSeconds), "a histogram is a single collected metric")
}
