package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

func newTestVisitors(t *testing.T) *visitorManager {
	env := newTestEnv(t, testConfig())

	vm := newVisitorManager(0, env.srv.backend, workflow.NewTasks(nil), nil)
	t.Cleanup(vm.Close)

	return vm
}

func TestVisitorStateIsReused(t *testing.T) {
	vm := newTestVisitors(t)

	a := vm.get("a")
	assert.Same(t, a, vm.get("a"))
	assert.NotSame(t, a, vm.get("b"))

	bob := behavior.Identity{Name: "Bob", Realm: "Area 52"}

	card := vm.card(a, "run-1", bob)
	assert.Same(t, card, vm.card(a, "run-1", behavior.Identity{Name: " BOB ", Realm: "area 52"}))
	assert.NotSame(t, card, vm.card(a, "run-2", bob))
	assert.NotSame(t, card, vm.card(a, "run-1", behavior.Identity{Name: "Alice", Realm: "Area 52"}))
}

func TestVisitorReap(t *testing.T) {
	vm := newTestVisitors(t)

	vm.get("old")
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	vm.get("fresh")

	vm.reap(cutoff)

	vm.mu.Lock()
	_, oldOK := vm.visitors["old"]
	_, freshOK := vm.visitors["fresh"]
	vm.mu.Unlock()

	assert.False(t, oldOK)
	assert.True(t, freshOK)
}

func TestVisitorCookie(t *testing.T) {
	cfg := testConfig()

	rec := httptest.NewRecorder()
	id := getOrSetVisitorID(cfg, rec, httptest.NewRequest(http.MethodGet, "/report", nil))

	_, err := uuid.Parse(id)
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, visitorCookieName, cookies[0].Name)
	assert.Equal(t, "/", cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)

	// A valid cookie is kept as is.
	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	req.AddCookie(&http.Cookie{Name: visitorCookieName, Value: id})
	rec = httptest.NewRecorder()

	assert.Equal(t, id, getOrSetVisitorID(cfg, rec, req))
	assert.Empty(t, rec.Result().Cookies())

	// A forged one is replaced.
	req = httptest.NewRequest(http.MethodGet, "/report", nil)
	req.AddCookie(&http.Cookie{Name: visitorCookieName, Value: "not-a-uuid"})
	rec = httptest.NewRecorder()

	assert.NotEqual(t, "not-a-uuid", getOrSetVisitorID(cfg, rec, req))
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestVisitorTinyTimeoutDoesNotPanic(t *testing.T) {
	vm := newVisitorManager(time.Nanosecond, nil, workflow.NewTasks(nil), nil)
	vm.Close()
}
