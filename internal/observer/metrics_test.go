package observer

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorType(t *testing.T) {
	cases := map[string]string{
		"":                                     "none",
		"database error: connection refused":   "database",
		"validation failed: field 'lead_id'":   "validation",
		"resource not found: lead abc":         "not_found",
		"resource conflict: claim lost":        "conflict",
		"context deadline exceeded":            "timeout",
		"json: cannot unmarshal string":        "unmarshal",
		"panic recovered: nil":                 "panic",
		"something odd happened":               "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestIncBatchItem_RespectsToggle(t *testing.T) {
	InitMetrics(true)
	before := testutil.ToFloat64(BatchItemsTotal.WithLabelValues("score", "error"))
	IncBatchItem("score", errors.New("x"))
	assert.Equal(t, before+1, testutil.ToFloat64(BatchItemsTotal.WithLabelValues("score", "error")))

	InitMetrics(false)
	defer InitMetrics(true)
	IncBatchItem("score", errors.New("x"))
	assert.Equal(t, before+1, testutil.ToFloat64(BatchItemsTotal.WithLabelValues("score", "error")))
}
