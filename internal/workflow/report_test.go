package workflow

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/client"
	"github.com/Seednode/dungeonhonor/internal/store"
)

func TestReportValidation(t *testing.T) {
	t.Run("both fields empty", func(t *testing.T) {
		fs := &fakeStore{}
		r := NewReport(fs, nil)

		out := r.Submit(context.Background(), behavior.Identity{Name: "  ", Realm: ""})

		assert.Equal(t, Failed, out.State)
		require.NotNil(t, out.Invalid)
		assert.True(t, out.Invalid.Name)
		assert.True(t, out.Invalid.Realm)
		assert.Zero(t, fs.lookupCount())

		v := r.View()
		assert.True(t, v.Invalid.Name)
		assert.True(t, v.Invalid.Realm)
		assert.Empty(t, v.Failure)
	})

	t.Run("only name empty", func(t *testing.T) {
		fs := &fakeStore{}
		r := NewReport(fs, nil)

		out := r.Submit(context.Background(), behavior.Identity{Name: "", Realm: "Illidan"})

		require.NotNil(t, out.Invalid)
		assert.True(t, out.Invalid.Name)
		assert.False(t, out.Invalid.Realm)
		assert.Zero(t, fs.lookupCount())
		assert.Equal(t, "Illidan", r.View().Fields.Realm)
	})

	t.Run("only realm empty", func(t *testing.T) {
		fs := &fakeStore{}
		r := NewReport(fs, nil)

		out := r.Submit(context.Background(), behavior.Identity{Name: "Bob", Realm: " "})

		require.NotNil(t, out.Invalid)
		assert.False(t, out.Invalid.Name)
		assert.True(t, out.Invalid.Realm)
		assert.Zero(t, fs.lookupCount())
	})
}

func TestReportSuccess(t *testing.T) {
	fs := &fakeStore{records: []behavior.Record{
		{Key: "runA:Sword"}, {Key: "runB:Sword"}, {Key: "runC:Heals"},
	}}
	r := NewReport(fs, nil)
	bob := behavior.Identity{Name: "Bob", Realm: "Illidan"}

	out := r.Submit(context.Background(), bob)

	require.NoError(t, out.Err)
	assert.Equal(t, Success, out.State)
	assert.Equal(t, []behavior.Bucket{{Label: "Sword", Count: 2}, {Label: "Heals", Count: 1}}, out.Buckets)
	assert.Equal(t, 1, fs.lookupCount())

	v := r.View()
	assert.Equal(t, behavior.Identity{}, v.Fields, "fields are cleared")
	assert.Equal(t, bob, v.Submitted, "submitted identity is kept for display")
	assert.True(t, v.HasResults)
	assert.Len(t, v.Records, 3)
	assert.Equal(t, out.Buckets, v.Buckets)
	assert.False(t, v.Invalid.Name || v.Invalid.Realm)
}

func TestReportFailureKeepsPreviousResults(t *testing.T) {
	fs := &fakeStore{records: []behavior.Record{{Key: "runA:Good Comms"}}}
	r := NewReport(fs, nil)
	ctx := context.Background()

	bob := behavior.Identity{Name: "Bob", Realm: "Illidan"}
	require.Equal(t, Success, r.Submit(ctx, bob).State)

	fs.mu.Lock()
	fs.lookupErr = &client.StatusError{Op: "lookup", StatusCode: http.StatusInternalServerError}
	fs.records = nil
	fs.mu.Unlock()

	alice := behavior.Identity{Name: "Alice", Realm: "Stormrage"}
	out := r.Submit(ctx, alice)

	assert.Equal(t, Failed, out.State)
	assert.Error(t, out.Err)
	assert.Nil(t, out.Invalid)

	v := r.View()
	assert.Equal(t, alice, v.Fields, "fields are left intact")
	assert.Equal(t, StatusFailureMessage, v.Failure)
	assert.Equal(t, bob, v.Submitted)
	assert.Equal(t, []behavior.Bucket{{Label: "Good Comms", Count: 1}}, v.Buckets)
	assert.Equal(t, 2, fs.lookupCount())
}

func TestReportStoreFailureMessage(t *testing.T) {
	fs := &fakeStore{lookupErr: fmt.Errorf("%w: failed to scan redis: %w", store.ErrUnavailable, errBoom)}
	r := NewReport(fs, nil)

	out := r.Submit(context.Background(), behavior.Identity{Name: "Bob", Realm: "Illidan"})

	assert.Equal(t, Failed, out.State)
	assert.Equal(t, StatusFailureMessage, r.View().Failure)
}

func TestReportTransportFailureMessage(t *testing.T) {
	logger, logs := observedLogger()
	fs := &fakeStore{lookupErr: errBoom}
	r := NewReport(fs, logger)

	out := r.Submit(context.Background(), behavior.Identity{Name: "Bob", Realm: "Illidan"})

	assert.ErrorIs(t, out.Err, errBoom)
	assert.Equal(t, UnexpectedFailureMessage, r.View().Failure)
	assert.False(t, r.View().HasResults)
	assert.Equal(t, 1, logs.FilterMessage("lookup failed").Len())
}

func TestReportDiscardsSupersededResponse(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	fs := &fakeStore{}
	fs.lookupHook = func(id behavior.Identity) {
		if id.Name == "Slow" {
			close(entered)
			<-release
		}
	}
	r := NewReport(fs, nil)
	ctx := context.Background()

	slowDone := make(chan ReportOutcome)
	go func() {
		slowDone <- r.Submit(ctx, behavior.Identity{Name: "Slow", Realm: "Illidan"})
	}()
	<-entered

	fs.mu.Lock()
	fs.records = []behavior.Record{{Key: "run:Giga Heals"}}
	fs.mu.Unlock()

	fast := behavior.Identity{Name: "Fast", Realm: "Illidan"}
	require.Equal(t, Success, r.Submit(ctx, fast).State)

	close(release)
	slow := <-slowDone

	assert.ErrorIs(t, slow.Err, ErrSuperseded)

	v := r.View()
	assert.Equal(t, fast, v.Submitted)
	assert.Equal(t, Success, v.State)
	assert.Equal(t, []behavior.Bucket{{Label: "Giga Heals", Count: 1}}, v.Buckets)
	assert.Equal(t, 2, fs.lookupCount())
}

func TestReportStateString(t *testing.T) {
	assert.Equal(t, "submitting", Submitting.String())
	assert.Equal(t, "unknown", ReportState(42).String())
}
