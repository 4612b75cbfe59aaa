package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar is the cookie channel. It behaves like a browser cookie store that can
// be wiped and snapshotted for persistence across restarts.
type Jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
	// attrs remembers what cookiejar.Cookies strips, keyed by cookie name.
	attrs map[string]storedCookie
	now   func() time.Time
}

// NewJar builds an empty jar honouring the public suffix list.
func NewJar() *Jar {
	return &Jar{inner: newCookieJar(), attrs: make(map[string]storedCookie), now: time.Now}
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New never returns a non-nil error.
	j, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return j
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	now := j.now()
	for _, c := range cookies {
		j.attrs[c.Name] = attrsOf(c, now)
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

// Reset drops every cookie.
func (j *Jar) Reset() {
	j.mu.Lock()
	j.inner = newCookieJar()
	j.attrs = make(map[string]storedCookie)
	j.mu.Unlock()
}

type storedCookie struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires,omitzero"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"httpOnly,omitempty"`
	SameSite http.SameSite `json:"sameSite,omitempty"`
}

// attrsOf records c's attributes. Max-Age is turned into an absolute expiry
// so it still means the same thing after a restart.
func attrsOf(c *http.Cookie, now time.Time) storedCookie {
	sc := storedCookie{
		Name:     c.Name,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
	if c.MaxAge > 0 {
		sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	}
	return sc
}

func (sc storedCookie) cookie() *http.Cookie {
	path := sc.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Path:     path,
		Domain:   sc.Domain,
		Expires:  sc.Expires,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
		SameSite: sc.SameSite,
	}
}

// stored lists the live cookies for origin with their recorded attributes.
func (j *Jar) stored(origin *url.URL) []storedCookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	live := j.inner.Cookies(origin)
	out := make([]storedCookie, 0, len(live))
	for _, c := range live {
		sc, ok := j.attrs[c.Name]
		if !ok {
			sc = storedCookie{Name: c.Name}
		}
		sc.Value = c.Value
		out = append(out, sc)
	}
	return out
}

type cookieSource interface {
	stored(origin *url.URL) []storedCookie
}

func encodeSnapshot(src cookieSource, origin *url.URL) (string, error) {
	stored := src.stored(origin)
	if len(stored) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode cookie snapshot: %w", err)
	}
	return string(raw), nil
}

// Snapshot serialises the cookies the jar would send to origin. It returns
// the empty string when there are none.
func (j *Jar) Snapshot(origin *url.URL) (string, error) {
	return encodeSnapshot(j, origin)
}

// Restore loads a snapshot produced by Snapshot for origin. Cookies that
// expired while the process was down are skipped.
func (j *Jar) Restore(origin *url.URL, snapshot string) error {
	if snapshot == "" {
		return nil
	}
	var stored []storedCookie
	if err := json.Unmarshal([]byte(snapshot), &stored); err != nil {
		return fmt.Errorf("decode cookie snapshot: %w", err)
	}
	now := j.now()
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, sc := range stored {
		if !sc.Expires.IsZero() && !sc.Expires.After(now) {
			continue
		}
		cookies = append(cookies, sc.cookie())
	}
	if len(cookies) > 0 {
		j.SetCookies(origin, cookies)
	}
	return nil
}

// Stage returns a jar for a single login attempt. It reads through to j but
// keeps every cookie it receives to itself until the attempt is committed.
func (j *Jar) Stage() *Staged {
	own := NewJar()
	own.now = j.now
	return &Staged{base: j, own: own}
}

// Staged holds the cookies of one login attempt. Dropping it discards them.
type Staged struct {
	base *Jar
	own  *Jar

	mu   sync.Mutex
	sets []stagedSet
}

type stagedSet struct {
	u       *url.URL
	cookies []*http.Cookie
}

func (s *Staged) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.own.SetCookies(u, cookies)
	s.mu.Lock()
	s.sets = append(s.sets, stagedSet{u: u, cookies: cookies})
	s.mu.Unlock()
}

// Cookies returns the staged cookies for u, topped up with the base jar's
// cookies of other names.
func (s *Staged) Cookies(u *url.URL) []*http.Cookie {
	own := s.own.Cookies(u)
	seen := make(map[string]bool, len(own))
	for _, c := range own {
		seen[c.Name] = true
	}
	for _, c := range s.base.Cookies(u) {
		if !seen[c.Name] {
			own = append(own, c)
		}
	}
	return own
}

func (s *Staged) stored(origin *url.URL) []storedCookie {
	own := s.own.stored(origin)
	seen := make(map[string]bool, len(own))
	for _, c := range own {
		seen[c.Name] = true
	}
	for _, c := range s.base.stored(origin) {
		if !seen[c.Name] {
			own = append(own, c)
		}
	}
	return own
}

// merge replays the staged cookies into the base jar, in arrival order.
func (s *Staged) merge() {
	s.mu.Lock()
	sets := s.sets
	s.sets = nil
	s.mu.Unlock()
	for _, set := range sets {
		s.base.SetCookies(set.u, set.cookies)
	}
}
