package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"
)

func TestManagerCounts(t *testing.T) {
	m := NewManager()

	m.RecordReading("i2c")
	m.RecordReading("i2c")
	m.RecordReading("spi")
	m.RecordReadFailure("attribute")
	m.RecordTaskCompleted("spi")
	m.SetLiveTasks(2)

	test.That(t, testutil.ToFloat64(m.readings.WithLabelValues("i2c")), test.ShouldEqual, 2.0)
	test.That(t, testutil.ToFloat64(m.readings.WithLabelValues("spi")), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(m.readFailures.WithLabelValues("attribute")), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(m.completions.WithLabelValues("spi")), test.ShouldEqual, 1.0)
	test.That(t, testutil.ToFloat64(m.liveTasks), test.ShouldEqual, 2.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewManager()
	m.RecordReading("attribute")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, strings.Contains(rec.Body.String(), `sensorhub_readings_total{source="attribute"} 1`), test.ShouldBeTrue)
}

func TestOrNoOp(t *testing.T) {
	r := OrNoOp(nil)
	r.RecordReading("i2c")
	r.SetLiveTasks(3)
	test.That(t, r, test.ShouldResemble, NoOp())

	m := NewManager()
	test.That(t, OrNoOp(m), test.ShouldEqual, m)
}
