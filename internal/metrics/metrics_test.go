package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
	"github.com/hurttlocker/ofnr/internal/pipeline"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(ofnr.StateAssembled, "repaired", map[ofnr.Action]int{
		ofnr.ActionPass:      2,
		ofnr.ActionRewritten: 1,
		ofnr.ActionRejected:  0,
	}, 3*time.Millisecond)
	m.Observe(ofnr.StateRejected, "", map[ofnr.Action]int{ofnr.ActionRejected: 1}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("Assembled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("Rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Labels.WithLabelValues("repaired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Diagnostics.WithLabelValues("PASS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Diagnostics.WithLabelValues("REJECTED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Labels))
}

func TestTrack(t *testing.T) {
	m := New()
	done := m.Track()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestPipelineObserver(t *testing.T) {
	store, err := ontology.Default()
	require.NoError(t, err)
	m := New()
	m.SetOntology(store.Summary())

	p, err := pipeline.New(store, pipeline.DefaultConfig(), zap.NewNop(), pipeline.WithObserver(m))
	require.NoError(t, err)
	_, err = p.Run(context.Background(), ofnr.Candidate{
		Observations: []string{"I saw the dishes in the sink this morning."},
		Feelings:     []string{"frustrated"},
		Needs:        []string{"support"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("Assembled")))
	assert.Equal(t, float64(store.Summary().Needs), testutil.ToFloat64(m.Ontology.WithLabelValues("needs")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe(ofnr.StateAssembled, "clean", nil, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ofnr_records_total{state="Assembled"} 1`)
	assert.Contains(t, string(body), "ofnr_run_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
