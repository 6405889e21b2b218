package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.RecordFrame("ecu-1", "SINGLE_FRAME")
	r.RecordFrame("ecu-1", "SINGLE_FRAME")
	r.RecordFrame("ecu-1", "FIRST_FRAME")
	r.RecordRequest("ecu-1", "TesterPresent", OutcomePositive, "", time.Millisecond)
	r.RecordRequest("ecu-1", "Unknown(0xFF)", OutcomeNegative, "0x12", time.Millisecond)
	r.RecordRequest("ecu-1", "", OutcomeRejected, "0x31", time.Millisecond)
	r.SetSessionActive("ecu-1", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.frames.WithLabelValues("ecu-1", "SINGLE_FRAME")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.frames.WithLabelValues("ecu-1", "FIRST_FRAME")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("ecu-1", "TesterPresent", OutcomePositive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.negatives.WithLabelValues("ecu-1", "0x12")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.negatives.WithLabelValues("ecu-1", "0x31")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("ecu-1")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordFrame("x", "y")
		r.RecordRequest("x", "y", OutcomeNegative, "0x12", 0)
		r.SetSessionActive("x", true)
		r.ConnOpened()
		r.ConnClosed()
		r.InvalidLine()
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ConnOpened()
	r.InvalidLine()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "vecu_gateway_connections 1"), text)
	assert.True(t, strings.Contains(text, "vecu_gateway_invalid_lines_total 1"), text)
}
