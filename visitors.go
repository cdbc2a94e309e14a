/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/auth"
	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/store"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

const visitorCookieName = "dungeonhonor_id"

// backend is everything the pages need from the store.
type backend interface {
	workflow.Lookuper
	workflow.Writer
}

// visitor holds the UI state of one browser: its report card and every
// run card it has opened.
type visitor struct {
	mu         sync.Mutex
	report     *workflow.Report
	cards      map[string]*workflow.RunCard
	lastActive time.Time
}

// visitorManager keys visitor state by cookie and drops visitors that
// have been idle longer than idleTimeout.
type visitorManager struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	idleTimeout time.Duration
	backend     backend
	tasks       *workflow.Tasks
	logger      *zap.Logger

	stop chan struct{}
	once sync.Once
}

func newVisitorManager(idleTimeout time.Duration, b backend, tasks *workflow.Tasks, logger *zap.Logger) *visitorManager {
	vm := &visitorManager{
		visitors:    make(map[string]*visitor),
		idleTimeout: idleTimeout,
		backend:     b,
		tasks:       tasks,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go vm.reaperLoop()
	}
	return vm
}

func (vm *visitorManager) Close() {
	vm.once.Do(func() {
		close(vm.stop)
	})
}

func (vm *visitorManager) get(id string) *visitor {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	v, ok := vm.visitors[id]
	if !ok {
		v = &visitor{
			report: workflow.NewReport(vm.backend, vm.logger),
			cards:  make(map[string]*workflow.RunCard),
		}
		vm.visitors[id] = v
	}

	v.mu.Lock()
	v.lastActive = time.Now()
	v.mu.Unlock()

	return v
}

func (vm *visitorManager) card(v *visitor, slug string, player behavior.Identity) *workflow.RunCard {
	key := slug + behavior.Delimiter + store.PlayerPrefix(player)

	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.cards[key]
	if !ok {
		c = workflow.NewRunCard(slug, player, vm.backend, vm.tasks, vm.logger)
		v.cards[key] = c
	}

	return c
}

func (vm *visitorManager) reaperLoop() {
	ticker := time.NewTicker(max(vm.idleTimeout/2, auth.MinSessionTimeout/2))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			vm.reap(time.Now().Add(-vm.idleTimeout))
		case <-vm.stop:
			return
		}
	}
}

func (vm *visitorManager) reap(cutoff time.Time) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	for id, v := range vm.visitors {
		v.mu.Lock()
		last := v.lastActive
		v.mu.Unlock()

		if last.Before(cutoff) {
			delete(vm.visitors, id)
		}
	}
}

func getOrSetVisitorID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()

	path := cfg.prefix
	if path == "" {
		path = "/"
	}

	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     path,
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}
