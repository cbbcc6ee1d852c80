package app

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	oidc "github.com/giantswarm/oidc-provider"
	"github.com/giantswarm/oidc-provider/security"
)

const sessionCookieName = "oidc_session"

// loginScript finishes a pending authorization once the user is signed in.
// It reads the request id the authorize page left in sessionStorage.
const loginScript = `(function () {
  var body = document.body;
  if (body.dataset.authenticated !== "true") { return; }
  var status = document.getElementById("status");
  var id = sessionStorage.getItem("oidc_request_id");
  if (!id) { status.textContent = "Signed in. No authorization request is pending."; return; }
  fetch(body.dataset.continuePath + "?request_id=" + encodeURIComponent(id), { credentials: "same-origin" })
    .then(function (r) { if (!r.ok) { throw new Error("status " + r.status); } return r.json(); })
    .then(function (d) { sessionStorage.removeItem("oidc_request_id"); window.location.assign(d.redirect_url); })
    .catch(function () { status.textContent = "The authorization request could not be completed. Start again from the application."; });
})();`

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body data-authenticated="{{.Authenticated}}" data-continue-path="{{.ContinuePath}}">
{{if .Authenticated}}<p id="status">Signing in as {{.Name}}&hellip;</p>
{{else}}<h1>Sign in</h1>
{{if .Failed}}<p id="status">Invalid username or password.</p>{{else}}<p id="status"></p>{{end}}
<form method="post" action="{{.LoginPath}}">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
{{end}}<script>` + loginScript + `</script>
</body>
</html>`))

var loginScriptHash = security.ScriptHash(loginScript)

var errInvalidCredentials = errors.New("invalid username or password")

type account struct {
	user         oidc.User
	passwordHash []byte
}

type session struct {
	userID    string
	expiresAt time.Time
}

// loginService is the built-in user store and login page. It implements
// oidc.UserResolver with a session cookie and oidc.UserDirectory over the
// configured accounts.
type loginService struct {
	accounts     map[string]account
	dummyHash    []byte
	loginPath    string
	continuePath string
	issuer       string
	ttl          time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]session
}

var (
	_ oidc.UserResolver  = (*loginService)(nil)
	_ oidc.UserDirectory = (*loginService)(nil)
)

func newLoginService(cfg Config, logger *slog.Logger) (*loginService, error) {
	// Unknown usernames are compared against this hash so both paths cost one
	// bcrypt comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	accounts := make(map[string]account, len(cfg.Users))
	for _, u := range cfg.Users {
		accounts[u.ID] = account{
			user:         oidc.User{ID: u.ID, Name: u.Name, Email: u.Email},
			passwordHash: []byte(u.PasswordHash),
		}
	}

	ttl := cfg.Session.TTL
	if ttl <= 0 {
		ttl = defaultConfig().Session.TTL
	}

	return &loginService{
		accounts:     accounts,
		dummyHash:    dummy,
		loginPath:    cfg.LoginPath,
		continuePath: strings.TrimRight(cfg.BasePath, "/") + "/continue",
		issuer:       cfg.Issuer,
		ttl:          ttl,
		now:          time.Now,
		logger:       logger,
		sessions:     make(map[string]session),
	}, nil
}

// AuthenticatedUser resolves the session cookie.
func (l *loginService) AuthenticatedUser(r *http.Request) (*oidc.User, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return nil, oidc.ErrNotAuthenticated
	}

	l.mu.Lock()
	s, ok := l.sessions[c.Value]
	if ok && !l.now().Before(s.expiresAt) {
		delete(l.sessions, c.Value)
		ok = false
	}
	l.mu.Unlock()
	if !ok {
		return nil, oidc.ErrNotAuthenticated
	}

	return l.LookupUser(r.Context(), s.userID)
}

// LookupUser returns the configured account with id.
func (l *loginService) LookupUser(_ context.Context, id string) (*oidc.User, error) {
	a, ok := l.accounts[id]
	if !ok {
		return nil, oidc.ErrUnknownUser
	}
	u := a.user
	return &u, nil
}

func (l *loginService) authenticate(username, password string) (*oidc.User, error) {
	a, ok := l.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(l.dummyHash, []byte(password))
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	u := a.user
	return &u, nil
}

func (l *loginService) startSession(userID string) string {
	token := oauth2.GenerateVerifier()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, s := range l.sessions {
		if !now.Before(s.expiresAt) {
			delete(l.sessions, k)
		}
	}
	l.sessions[token] = session{userID: userID, expiresAt: now.Add(l.ttl)}
	return token
}

type loginPageData struct {
	Authenticated bool
	Failed        bool
	Name          string
	LoginPath     string
	ContinuePath  string
}

// ServeLogin renders the sign-in form on GET and checks credentials on POST.
// A signed-in visitor gets the page variant that completes the pending
// authorization request.
func (l *loginService) ServeLogin(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{LoginPath: l.loginPath, ContinuePath: l.continuePath}

	switch r.Method {
	case http.MethodGet:
		if u, err := l.AuthenticatedUser(r); err == nil {
			data.Authenticated, data.Name = true, displayName(u)
		}

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		u, err := l.authenticate(r.PostForm.Get("username"), r.PostForm.Get("password"))
		if err != nil {
			l.logger.Info("Login failed", "username", r.PostForm.Get("username"))
			data.Failed = true
			l.render(w, http.StatusUnauthorized, data)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    l.startSession(u.ID),
			Path:     "/",
			MaxAge:   int(l.ttl.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil || strings.HasPrefix(l.issuer, "https://"),
			SameSite: http.SameSiteLaxMode,
		})
		l.logger.Info("Login succeeded", "user_id", u.ID)
		data.Authenticated, data.Name = true, displayName(u)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	l.render(w, http.StatusOK, data)
}

func (l *loginService) render(w http.ResponseWriter, status int, data loginPageData) {
	security.SetPageSecurityHeaders(w, l.issuer, loginScriptHash)
	// the page script calls the continue endpoint and the form posts back here
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; script-src '"+loginScriptHash+"'; connect-src 'self'; form-action 'self'; frame-ancestors 'none'; base-uri 'none'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, data); err != nil {
		l.logger.Error("Failed to render login page", "error", err)
	}
}

func displayName(u *oidc.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
