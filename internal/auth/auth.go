/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package auth signs users in with their Battle.net account.
//
// The session it establishes is only an access capability; lookups never
// read the signed-in identity.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	CookieName    = "dungeonhonor_session"
	DefaultIssuer = "https://us.battle.net/oauth"
)

// Issuers lists the Battle.net regional OAuth issuers.
var Issuers = []string{
	"https://us.battle.net/oauth",
	"https://oauth.battle.net",
	"https://oauth.battlenet.com.cn",
	"https://www.battlenet.com.cn/oauth",
	"https://eu.battle.net/oauth",
	"https://kr.battle.net/oauth",
	"https://tw.battle.net/oauth",
}

var (
	ErrInvalidState = errors.New("invalid or expired login state")
	ErrMissingCode  = errors.New("missing authorization code")
)

type Config struct {
	ClientID       string
	ClientSecret   string
	Issuer         string
	RedirectURL    string
	SessionTimeout time.Duration
	// CookiePath scopes the session cookie, for use behind a path prefix.
	CookiePath string
	Secure     bool
}

// ValidIssuer reports whether issuer is one of the Battle.net issuers.
func ValidIssuer(issuer string) bool {
	return slices.Contains(Issuers, strings.TrimSuffix(issuer, "/"))
}

type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	sessions    *Sessions
	cookiePath  string
	secure      bool
	logger      *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client id and secret are required")
	}

	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	if issuer == "" {
		issuer = DefaultIssuer
	}

	cookiePath := cfg.CookiePath
	if cookiePath == "" {
		cookiePath = "/"
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  issuer + "/authorize",
				TokenURL: issuer + "/token",
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"openid", "wow.profile"},
		},
		userInfoURL: issuer + "/userinfo",
		sessions:    NewSessions(cfg.SessionTimeout),
		cookiePath:  cookiePath,
		secure:      cfg.Secure,
		logger:      logger,
	}, nil
}

func (p *Provider) Close() {
	p.sessions.Close()
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// localPath only allows redirects back into this site.
func localPath(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}

	return next
}

// Login redirects to the provider with a fresh state, nonce and PKCE
// challenge. The optional "next" query parameter is where the user lands
// after the callback. The identity comes from the userinfo endpoint rather
// than an ID token, so the nonce is only passed through.
func (p *Provider) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		http.Error(w, "unable to start login", http.StatusInternalServerError)
		return
	}
	nonce, err := randomToken()
	if err != nil {
		http.Error(w, "unable to start login", http.StatusInternalServerError)
		return
	}
	verifier := oauth2.GenerateVerifier()

	p.sessions.addPending(state, pendingLogin{
		verifier: verifier,
		returnTo: localPath(r.URL.Query().Get("next")),
	})

	target := p.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)

	http.Redirect(w, r, target, http.StatusFound)
}

type userInfo struct {
	ID        json.Number `json:"id"`
	BattleTag string      `json:"battletag"`
}

// Callback redeems the authorization code and starts a session.
func (p *Provider) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		p.logger.Warn("login rejected by provider", zap.String("error", e), zap.String("description", q.Get("error_description")))
		http.Error(w, "login was not completed", http.StatusUnauthorized)
		return
	}

	pending, ok := p.sessions.takePending(q.Get("state"))
	if !ok {
		p.logger.Warn("login callback failed", zap.Error(ErrInvalidState))
		http.Error(w, ErrInvalidState.Error(), http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, ErrMissingCode.Error(), http.StatusBadRequest)
		return
	}

	tok, err := p.oauth.Exchange(r.Context(), code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		p.logger.Error("token exchange failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	sess := Session{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}

	info, err := p.fetchUserInfo(r, tok)
	if err != nil {
		p.logger.Warn("failed to fetch user info", zap.Error(err))
	} else {
		sess.UserID = info.ID.String()
		sess.BattleTag = info.BattleTag
	}

	sess = p.sessions.create(sess)

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     p.cookiePath,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})

	p.logger.Info("user signed in", zap.String("battletag", sess.BattleTag))

	http.Redirect(w, r, pending.returnTo, http.StatusFound)
}

func (p *Provider) fetchUserInfo(r *http.Request, tok *oauth2.Token) (userInfo, error) {
	resp, err := p.oauth.Client(r.Context(), tok).Get(p.userInfoURL)
	if err != nil {
		return userInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return userInfo{}, fmt.Errorf("userinfo: unexpected status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return userInfo{}, fmt.Errorf("userinfo: %w", err)
	}

	return info, nil
}

func (p *Provider) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		p.sessions.Delete(c.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     p.cookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, localPath(r.URL.Query().Get("next")), http.StatusFound)
}

// Session returns the session attached to r, if any.
func (p *Provider) Session(r *http.Request) (Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Session{}, false
	}

	return p.sessions.Get(c.Value)
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	BattleTag     string `json:"battletag,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

// SessionInfo reports whether the caller is signed in. The access token
// itself is never exposed.
func (p *Provider) SessionInfo(w http.ResponseWriter, r *http.Request) {
	var resp sessionResponse
	if sess, ok := p.Session(r); ok {
		resp.Authenticated = true
		resp.BattleTag = sess.BattleTag
		if !sess.ExpiresAt.IsZero() {
			resp.ExpiresAt = sess.ExpiresAt.Unix()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}
