package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEngineOp(t *testing.T) {
	before := testutil.ToFloat64(engineOps.WithLabelValues("layer", "add", "error"))
	RecordEngineOp("layer", "add", errors.New("boom"))
	RecordEngineOp("layer", "add", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(engineOps.WithLabelValues("layer", "add", "error")))
}

func TestRecordStyleLoad(t *testing.T) {
	before := testutil.ToFloat64(styleLoads.WithLabelValues(LoadCancelled))
	RecordStyleLoad(LoadCancelled)
	assert.Equal(t, before+1, testutil.ToFloat64(styleLoads.WithLabelValues(LoadCancelled)))
}

func TestObservePass(t *testing.T) {
	ObservePass("content", time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(passDuration))
	assert.NotNil(t, Handler())
}
