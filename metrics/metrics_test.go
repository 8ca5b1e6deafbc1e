package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(PartitionsWrittenTotal.WithLabelValues(Variant(true)))
	PartitionsWrittenTotal.WithLabelValues(Variant(true)).Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(PartitionsWrittenTotal.WithLabelValues("smart")))

	assert.Equal(t, "surface", Variant(false))
}

func TestPush(t *testing.T) {
	require.NoError(t, Push(context.Background(), "", "buoy_importer"))

	var path, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	DuplicatesTotal.Inc()
	require.NoError(t, Push(context.Background(), server.URL, "buoy_importer"))
	assert.Equal(t, "/metrics/job/buoy_importer", path)
	assert.True(t, strings.Contains(body, "duplicate_rows_total"))

	server.Close()
	assert.Error(t, Push(context.Background(), server.URL, "buoy_importer"))
}
