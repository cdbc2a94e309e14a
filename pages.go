/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/auth"
	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/workflow"
)

//go:embed templates/*
var templatesFS embed.FS

const qrSize = 320

type pageData struct {
	Prefix      string
	Title       string
	AuthEnabled bool
	SignedIn    bool
	BattleTag   string
	Page        any
}

type reportPage struct {
	View    workflow.ReportView
	LiveURL string
	Max     int
}

type behaviorButton struct {
	Value behavior.Behavior
	Class string
}

type runPage struct {
	View      workflow.CardView
	Action    string
	Behaviors []behaviorButton
	Question  string
	RatedYes  bool
	RatedNo   bool
	QRURL     string
}

var behaviorClasses = map[behavior.Behavior]string{
	behavior.BigDam:         "dam",
	behavior.UsesDefensives: "defensives",
	behavior.GoodComms:      "comms",
	behavior.GigaHeals:      "heals",
}

type pages struct {
	cfg       *Config
	visitors  *visitorManager
	auth      *auth.Provider
	templates map[string]*template.Template
	errs      chan<- error
}

func parseTemplates(prefix string) (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"favicon": func() template.HTML {
			return template.HTML(getFavicon(template.HTMLEscapeString(prefix)))
		},
	}

	templates := make(map[string]*template.Template)

	for _, name := range []string{"home", "report", "run"} {
		t, err := template.New("").Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}

		templates[name] = t
	}

	return templates, nil
}

// newPages wires the HTML surface. provider may be nil, in which case run
// cards are open to everyone.
func newPages(cfg *Config, vm *visitorManager, provider *auth.Provider, errs chan<- error) (*pages, error) {
	templates, err := parseTemplates(cfg.prefix)
	if err != nil {
		return nil, err
	}

	return &pages{
		cfg:       cfg,
		visitors:  vm,
		auth:      provider,
		templates: templates,
		errs:      errs,
	}, nil
}

func (p *pages) data(r *http.Request, title string, page any) pageData {
	d := pageData{
		Prefix:      p.cfg.prefix,
		Title:       title,
		AuthEnabled: p.auth != nil,
		Page:        page,
	}

	if p.auth != nil {
		if sess, ok := p.auth.Session(r); ok {
			d.SignedIn = true
			d.BattleTag = sess.BattleTag
		}
	}

	return d
}

func (p *pages) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	startTime := time.Now()

	var buf bytes.Buffer
	if err := p.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		p.cfg.logger.Error("template execution failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "An error has occurred. Please try again.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(p.cfg, w)

	written, err := w.Write(buf.Bytes())
	if err != nil {
		p.errs <- err

		return
	}

	logf(p.cfg, "SERVE: %s page (%s) to %s in %s",
		data.Title,
		byteSize(written),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func (p *pages) serveHome() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		p.render(w, r, "home", p.data(r, "Home", nil))
	}
}

func (p *pages) serveReport() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		v := p.visitors.get(getOrSetVisitorID(p.cfg, w, r))

		view := v.report.View()

		page := reportPage{
			View: view,
			Max:  1,
		}

		for _, b := range view.Buckets {
			page.Max = max(page.Max, b.Count)
		}

		if view.HasResults {
			page.LiveURL = p.cfg.prefix + "/report/ws?" + url.Values{
				"name":  {view.Submitted.Name},
				"realm": {view.Submitted.Realm},
			}.Encode()
		}

		p.render(w, r, "report", p.data(r, "Report Card", page))
	}
}

func (p *pages) submitReport() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		v := p.visitors.get(getOrSetVisitorID(p.cfg, w, r))

		id := behavior.Identity{
			Name:  r.PostForm.Get("name"),
			Realm: r.PostForm.Get("realm"),
		}

		out := v.report.Submit(r.Context(), id)

		logf(p.cfg, "REPORT: Lookup of %s for %s finished as %s", id, realIP(r), out.State)

		http.Redirect(w, r, p.cfg.prefix+"/report", http.StatusSeeOther)
	}
}

// openRun turns the home page form into a run card URL.
func (p *pages) openRun() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		q := r.URL.Query()

		slug := strings.TrimSpace(q.Get("slug"))
		if !validSlug(slug) {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, runURL(p.cfg.prefix, slug, playerFromValues(q)), http.StatusSeeOther)
	}
}

func validSlug(slug string) bool {
	return slug != "" && !strings.Contains(slug, behavior.Delimiter)
}

func playerFromValues(v url.Values) behavior.Identity {
	return behavior.Identity{
		Name:  strings.TrimSpace(v.Get("name")),
		Realm: strings.TrimSpace(v.Get("realm")),
	}
}

func runURL(prefix, slug string, player behavior.Identity) string {
	return prefix + "/runs/" + url.PathEscape(slug) + "?" + url.Values{
		"name":  {player.Name},
		"realm": {player.Realm},
	}.Encode()
}

// runCard resolves the card addressed by the request, writing an error
// response and returning nil if it cannot.
func (p *pages) runCard(w http.ResponseWriter, r *http.Request, ps httprouter.Params, values url.Values) *workflow.RunCard {
	slug := ps.ByName("slug")
	if !validSlug(slug) {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return nil
	}

	player := playerFromValues(values)
	if err := player.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	v := p.visitors.get(getOrSetVisitorID(p.cfg, w, r))

	return p.visitors.card(v, slug, player)
}

// requireLogin sends anonymous visitors to sign in when auth is enabled.
// next must be a page that can be fetched with GET, since that is how the
// browser returns after the callback.
func (p *pages) requireLogin(w http.ResponseWriter, r *http.Request, next string) bool {
	if p.auth == nil {
		return true
	}

	if _, ok := p.auth.Session(r); ok {
		return true
	}

	http.Redirect(w, r, p.cfg.prefix+"/auth/login?"+url.Values{"next": {next}}.Encode(), http.StatusFound)

	return false
}

func (p *pages) serveRun() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !p.requireLogin(w, r, r.URL.RequestURI()) {
			return
		}

		card := p.runCard(w, r, ps, r.URL.Query())
		if card == nil {
			return
		}

		view := card.View()

		page := runPage{
			View:     view,
			Action:   p.cfg.prefix + "/runs/" + url.PathEscape(view.Slug),
			Question: workflow.RejoinQuestion,
		}

		page.QRURL = page.Action + "/qr?" + r.URL.RawQuery

		for _, b := range behavior.Behaviors() {
			page.Behaviors = append(page.Behaviors, behaviorButton{Value: b, Class: behaviorClasses[b]})
		}

		if view.Rating != nil {
			page.RatedYes = *view.Rating
			page.RatedNo = !*view.Rating
		}

		p.render(w, r, "run", p.data(r, view.Player.Name, page))
	}
}

func (p *pages) recordBehavior() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		if !p.requireLogin(w, r, runURL(p.cfg.prefix, ps.ByName("slug"), playerFromValues(r.PostForm))) {
			return
		}

		card := p.runCard(w, r, ps, r.PostForm)
		if card == nil {
			return
		}

		b := behavior.Behavior(r.PostForm.Get("behavior"))
		if err := card.RecordBehavior(r.Context(), b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		view := card.View()

		logf(p.cfg, "RUN: %s tagged %s as %q on run %s", realIP(r), view.Player, b, view.Slug)

		http.Redirect(w, r, runURL(p.cfg.prefix, view.Slug, view.Player), http.StatusSeeOther)
	}
}

func (p *pages) recordRejoin() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		if !p.requireLogin(w, r, runURL(p.cfg.prefix, ps.ByName("slug"), playerFromValues(r.PostForm))) {
			return
		}

		card := p.runCard(w, r, ps, r.PostForm)
		if card == nil {
			return
		}

		var rating bool
		switch r.PostForm.Get("rating") {
		case "true":
			rating = true
		case "false":
			rating = false
		default:
			http.Error(w, "rating must be true or false", http.StatusBadRequest)
			return
		}

		err := card.RecordRejoinRating(r.Context(), rating)
		switch {
		case errors.Is(err, workflow.ErrRatingNotPrompted), errors.Is(err, workflow.ErrAlreadyRated):
			logf(p.cfg, "RUN: Ignored rejoin rating from %s: %v", realIP(r), err)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		view := card.View()

		http.Redirect(w, r, runURL(p.cfg.prefix, view.Slug, view.Player), http.StatusSeeOther)
	}
}

// serveQR renders a PNG QR code pointing back at the run card, so the
// rest of the group can open it from their phones.
func (p *pages) serveQR() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validSlug(ps.ByName("slug")) {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}

		target := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.EscapedPath(), "/qr")
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
		if err != nil {
			p.cfg.logger.Error("qr generation failed", zap.String("url", target), zap.Error(err))
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(p.cfg, w)

		_, err = w.Write(png)
		if err != nil {
			p.errs <- err

			return
		}
	}
}

func (p *pages) register(mux *httprouter.Router) {
	mux.GET(p.cfg.prefix+"/", p.serveHome())
	mux.GET(p.cfg.prefix+"/report", p.serveReport())
	mux.POST(p.cfg.prefix+"/report", p.submitReport())
	mux.GET(p.cfg.prefix+"/runs", p.openRun())
	mux.GET(p.cfg.prefix+"/runs/:slug", p.serveRun())
	mux.POST(p.cfg.prefix+"/runs/:slug/behavior", p.recordBehavior())
	mux.POST(p.cfg.prefix+"/runs/:slug/rejoin", p.recordRejoin())
	mux.GET(p.cfg.prefix+"/runs/:slug/qr", p.serveQR())
}
