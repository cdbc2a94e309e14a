// Live report view
//
// Browsers showing a report card open /report/ws?name=&realm= and receive
// the re-aggregated histogram whenever a behavior is saved for that
// player. Viewers of the same player share one hub; a hub is dropped as
// soon as its last viewer disconnects.

package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/store"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

// BucketsMessage is pushed to live viewers.
type BucketsMessage struct {
	Type    string            `json:"type"` // "buckets"
	Name    string            `json:"name"`
	Realm   string            `json:"realm"`
	Buckets []behavior.Bucket `json:"buckets"`
	Total   int               `json:"total"`
}

// ErrorMessage tells a viewer its refresh failed; the last histogram stays.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type liveClient struct {
	conn *websocket.Conn
	send chan any
}

type liveHub struct {
	identity behavior.Identity
	clients  map[*liveClient]bool
}

type liveManager struct {
	mu     sync.Mutex
	hubs   map[string]*liveHub
	lookup workflow.Lookuper
	group  singleflight.Group
	logger *zap.Logger
	gauge  prometheus.Gauge
}

func newLiveManager(lookup workflow.Lookuper, m *metrics, logger *zap.Logger) *liveManager {
	return &liveManager{
		hubs:   make(map[string]*liveHub),
		lookup: lookup,
		logger: logger,
		gauge:  m.liveViewers,
	}
}

func hubKey(id behavior.Identity) string {
	return store.PlayerPrefix(id)
}

func (lm *liveManager) subscribe(id behavior.Identity, c *liveClient) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	key := hubKey(id)
	hub, ok := lm.hubs[key]
	if !ok {
		hub = &liveHub{identity: id, clients: make(map[*liveClient]bool)}
		lm.hubs[key] = hub
	}
	hub.clients[c] = true
	lm.gauge.Inc()
}

func (lm *liveManager) unsubscribe(id behavior.Identity, c *liveClient) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	key := hubKey(id)
	hub, ok := lm.hubs[key]
	if !ok {
		return
	}

	if _, ok := hub.clients[c]; ok {
		delete(hub.clients, c)
		close(c.send)
		lm.gauge.Dec()
	}

	if len(hub.clients) == 0 {
		delete(lm.hubs, key)
	}
}

func (lm *liveManager) watched(id behavior.Identity) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	_, ok := lm.hubs[hubKey(id)]

	return ok
}

// snapshot looks up the player once even if several saves land at the
// same time.
func (lm *liveManager) snapshot(ctx context.Context, id behavior.Identity) (BucketsMessage, error) {
	v, err, _ := lm.group.Do(hubKey(id), func() (any, error) {
		records, err := lm.lookup.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}

		buckets := behavior.Aggregate(records)

		return BucketsMessage{
			Type:    "buckets",
			Name:    id.Name,
			Realm:   id.Realm,
			Buckets: buckets,
			Total:   behavior.Total(buckets),
		}, nil
	})
	if err != nil {
		return BucketsMessage{}, err
	}

	return v.(BucketsMessage), nil
}

// publish pushes a fresh histogram to everyone watching id.
func (lm *liveManager) publish(ctx context.Context, id behavior.Identity) {
	if !lm.watched(id) {
		return
	}

	var msg any
	snap, err := lm.snapshot(ctx, id)
	if err != nil {
		lm.logger.Warn("live refresh failed", zap.Stringer("identity", id), zap.Error(err))
		msg = ErrorMessage{Type: "error", Message: workflow.UnexpectedFailureMessage}
	} else {
		msg = snap
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	hub, ok := lm.hubs[hubKey(id)]
	if !ok {
		return
	}

	for client := range hub.clients {
		select {
		case client.send <- msg:
		default:
			delete(hub.clients, client)
			close(client.send)
			lm.gauge.Dec()
		}
	}
}

// notifyingStore publishes to live viewers after each saved behavior.
type notifyingStore struct {
	store.Store
	live *liveManager
}

func (s *notifyingStore) SaveBehavior(ctx context.Context, sub behavior.FeedbackSubmission) error {
	if err := s.Store.SaveBehavior(ctx, sub); err != nil {
		return err
	}

	s.live.publish(context.WithoutCancel(ctx), sub.Player())

	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func serveLive(cfg *Config, lm *liveManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		q := r.URL.Query()
		id := behavior.Identity{Name: q.Get("name"), Realm: q.Get("realm")}
		if err := id.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			lm.logger.Debug("upgrade error", zap.Error(err))
			return
		}

		client := &liveClient{
			conn: conn,
			send: make(chan any, 8),
		}

		lm.subscribe(id, client)

		logf(cfg, "LIVE: %s watching %s", realIP(r), id)

		go client.writePump()

		if snap, err := lm.snapshot(r.Context(), id); err == nil {
			lm.mu.Lock()
			if hub, ok := lm.hubs[hubKey(id)]; ok && hub.clients[client] {
				select {
				case client.send <- snap:
				default:
				}
			}
			lm.mu.Unlock()
		}

		client.readPump(lm, id)
	}
}

// readPump only watches for the viewer going away.
func (c *liveClient) readPump(lm *liveManager, id behavior.Identity) {
	defer func() {
		lm.unsubscribe(id, c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *liveClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
