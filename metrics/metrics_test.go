package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollector(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, c)

	assert.NotPanics(t, func() {
		c.ConnAccepted()
		c.ConnClosed(ReasonPeerClosed)
		c.AcceptError()
		c.Frame(FrameReply)
		c.BytesIn(10)
		c.BytesOut(10)
		c.SeqMismatch()
		c.ObserveDispatch("ping", time.Millisecond)
	})
	assert.Nil(t, c.Registry())
}

func TestCollector(t *testing.T) {
	c, err := New(Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	c.ConnAccepted()
	c.ConnAccepted()
	c.ConnClosed(ReasonPeerClosed)
	c.Frame(FrameReply)
	c.Frame(FrameReply)
	c.Frame(FrameOneway)
	c.BytesIn(17)
	c.BytesOut(0)
	c.ObserveDispatch("ping", 2*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsClosed.WithLabelValues(ReasonPeerClosed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.frames.WithLabelValues(FrameReply)))
	assert.Equal(t, 17.0, testutil.ToFloat64(c.bytesIn))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.bytesOut))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_dispatch_duration_seconds_bucket")
}

func TestConfigValidate(t *testing.T) {
	c := Config{}
	require.NoError(t, c.Validate())
	assert.Equal(t, "/metrics", c.Path)
	assert.Equal(t, "hydra", c.Namespace)

	assert.Error(t, (&Config{Path: "metrics"}).Validate())
	assert.Error(t, (&Config{Addr: "nocolon"}).Validate())
	assert.NoError(t, (&Config{Addr: ":9100"}).Validate())
}
