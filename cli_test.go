package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/client"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

func noColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestRenderHistogram(t *testing.T) {
	noColor(t)

	var buf bytes.Buffer
	renderHistogram(&buf, behavior.Identity{Name: "Bob", Realm: "Area 52"}, []behavior.Bucket{
		{Label: "Big Dam", Count: 4},
		{Label: "Good Comms", Count: 1},
	})

	want := "Bob (Area 52)\n" +
		"  Big Dam    " + repeat("█", 40) + " 4\n" +
		"  Good Comms " + repeat("█", 10) + " 1\n" +
		"  5 total\n"

	assert.Equal(t, want, buf.String())
}

func TestRenderHistogramEmpty(t *testing.T) {
	noColor(t)

	var buf bytes.Buffer
	renderHistogram(&buf, behavior.Identity{Name: "Bob", Realm: "Area 52"}, []behavior.Bucket{})

	assert.Equal(t, "Bob (Area 52)\nNo behaviors recorded yet.\n", buf.String())
}

func boolPtr(b bool) *bool {
	return &b
}

// testContext returns a context that is cancelled when the test finishes,
// matching testing.T.Context on newer toolchains.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx
}

func repeat(s string, n int) string {
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		b.WriteString(s)
	}

	return b.String()
}

func TestParseRejoin(t *testing.T) {
	tests := []struct {
		in      string
		want    *bool
		wantErr bool
	}{
		{"", nil, false},
		{"yes", boolPtr(true), false},
		{"Y", boolPtr(true), false},
		{"no", boolPtr(false), false},
		{"false", boolPtr(false), false},
		{"sometimes", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRejoin(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunReport(t *testing.T) {
	noColor(t)
	env := newTestEnv(t, testConfig())

	resp := env.postJSON(t, "/api/saveBehavior", `{"slug":"run-1","behavior":"Uses Defensives","name":"Bob","realm":"Area 52"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := client.New(env.ts.URL)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runReport(testContext(t), &buf, workflow.NewReport(c, zap.NewNop()), behavior.Identity{Name: "Bob", Realm: "Area 52"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Uses Defensives")
	assert.Contains(t, buf.String(), "1 total")

	buf.Reset()
	err = runReport(testContext(t), &buf, workflow.NewReport(c, zap.NewNop()), behavior.Identity{Name: "Bob"})
	var verr *behavior.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Realm)
	assert.Empty(t, buf.String())
}

func TestRunReportFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		c, err := client.New(ts.URL)
		require.NoError(t, err)

		err = runReport(testContext(t), &bytes.Buffer{}, workflow.NewReport(c, nil), behavior.Identity{Name: "Bob", Realm: "Area 52"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), workflow.StatusFailureMessage)
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		c, err := client.New(url)
		require.NoError(t, err)

		err = runReport(testContext(t), &bytes.Buffer{}, workflow.NewReport(c, nil), behavior.Identity{Name: "Bob", Realm: "Area 52"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), workflow.UnexpectedFailureMessage)
	})
}

func TestRunRate(t *testing.T) {
	noColor(t)
	env := newTestEnv(t, testConfig())

	c, err := client.New(env.ts.URL)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runRate(testContext(t), &buf, c, zap.NewNop(), rateOptions{
		slug:     "run-3",
		player:   behavior.Identity{Name: "Bob", Realm: "Area 52"},
		behavior: behavior.GigaHeals,
		rejoin:   boolPtr(true),
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Recorded Giga Heals for Bob-Area 52 on run run-3")
	assert.Contains(t, buf.String(), workflow.ThankYouMessage)

	count, err := env.mr.Get("honor:behavior:area-52:bob:run-3:Giga Heals")
	require.NoError(t, err)
	assert.Equal(t, "1", count)

	rating, err := env.mr.Get("honor:rejoin:area-52:bob:run-3")
	require.NoError(t, err)
	assert.Equal(t, "true", rating)
}

func TestRunRateRejects(t *testing.T) {
	c, err := client.New("http://127.0.0.1:1")
	require.NoError(t, err)

	player := behavior.Identity{Name: "Bob", Realm: "Area 52"}

	err = runRate(testContext(t), &bytes.Buffer{}, c, nil, rateOptions{slug: "a:b", player: player, behavior: behavior.BigDam})
	assert.Error(t, err)

	err = runRate(testContext(t), &bytes.Buffer{}, c, nil, rateOptions{slug: "run-1", player: behavior.Identity{Name: "Bob"}, behavior: behavior.BigDam})
	var verr *behavior.ValidationError
	assert.ErrorAs(t, err, &verr)

	err = runRate(testContext(t), &bytes.Buffer{}, c, nil, rateOptions{slug: "run-1", player: player, behavior: "Stood In Fire"})
	assert.ErrorIs(t, err, behavior.ErrUnknownBehavior)
}

func TestRunRateReportsFailedWrite(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := client.New(ts.URL)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runRate(testContext(t), &buf, c, nil, rateOptions{
		slug:     "run-1",
		player:   behavior.Identity{Name: "Bob", Realm: "Area 52"},
		behavior: behavior.BigDam,
	})

	var serr *client.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Contains(t, err.Error(), workflow.StatusFailureMessage)
	assert.Empty(t, buf.String())
}
