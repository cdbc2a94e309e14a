/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/client"
	"github.com/Seednode/dungeonhonor/internal/store"
)

const maxRequestBody = 4 << 10

type lookupResponse struct {
	Data []behavior.Record `json:"data"`
}

type statusResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func serveLookup(cfg *Config, b backend, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		q := r.URL.Query()
		id := behavior.Identity{Name: q.Get("name"), Realm: q.Get("realm")}
		if err := id.Validate(); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, statusResponse{Error: err.Error()}, errs)
			return
		}

		records, err := b.Lookup(r.Context(), id)
		if err != nil {
			cfg.logger.Error("lookup failed", zap.Stringer("identity", id), zap.Error(err))
			writeJSON(cfg, w, http.StatusInternalServerError, statusResponse{Error: "lookup failed"}, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, lookupResponse{Data: records}, errs)

		logf(cfg, "API: Lookup of %s (%d records) for %s in %s",
			id,
			len(records),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))

	return dec.Decode(v)
}

func writeStoreError(cfg *Config, w http.ResponseWriter, op string, err error, errs chan<- error) {
	if errors.Is(err, store.ErrInvalidSubmission) {
		writeJSON(cfg, w, http.StatusBadRequest, statusResponse{Error: err.Error()}, errs)
		return
	}

	cfg.logger.Error(op+" failed", zap.Error(err))
	writeJSON(cfg, w, http.StatusInternalServerError, statusResponse{Error: op + " failed"}, errs)
}

func serveSaveBehavior(cfg *Config, b backend, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var sub behavior.FeedbackSubmission
		if err := decodeBody(w, r, &sub); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, statusResponse{Error: "invalid request body"}, errs)
			return
		}

		if err := b.SaveBehavior(r.Context(), sub); err != nil {
			writeStoreError(cfg, w, "save behavior", err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, statusResponse{Status: "ok"}, errs)

		logf(cfg, "API: Saved %q for run %s from %s", sub.Behavior, sub.Slug, realIP(r))
	}
}

func serveSaveRejoinRating(cfg *Config, b backend, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var rating behavior.RejoinRating
		if err := decodeBody(w, r, &rating); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, statusResponse{Error: "invalid request body"}, errs)
			return
		}

		if err := b.SaveRejoinRating(r.Context(), rating); err != nil {
			writeStoreError(cfg, w, "save rejoin rating", err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, statusResponse{Status: "ok"}, errs)

		logf(cfg, "API: Saved rejoin rating %t for run %s from %s", rating.Rating, rating.Slug, realIP(r))
	}
}

func registerAPI(cfg *Config, b backend, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+client.DefaultLookupPath, serveLookup(cfg, b, errs))
	mux.POST(cfg.prefix+client.DefaultWritePath, serveSaveBehavior(cfg, b, errs))
	mux.POST(cfg.prefix+client.DefaultRatingPath, serveSaveRejoinRating(cfg, b, errs))
}
