// Package app composes the per-user view machines (profile gate, session
// catalog, admin console) into one live view and shares them between all
// connections of the same user.
package app

import "net/url"

// Page names the two top-level screens.
type Page string

const (
	PageMain   Page = "main"
	PageRoster Page = "roster"
)

// Route is the parsed top-level location.
type Route struct {
	Page      Page   `json:"page"`
	SessionID string `json:"sessionId,omitempty"`
}

// ParseRoute reads ?page=roster&session=<id>. Anything else is the main
// app.
func ParseRoute(q url.Values) Route {
	if q.Get("page") == string(PageRoster) {
		return Route{Page: PageRoster, SessionID: q.Get("session")}
	}
	return Route{Page: PageMain}
}

// Public reports whether the route skips identity resolution. The roster
// page never signs anyone in, even when the session id is missing.
func (r Route) Public() bool {
	return r.Page == PageRoster
}

// IsRoster reports whether the public roster should be rendered.
func (r Route) IsRoster() bool {
	return r.Page == PageRoster && r.SessionID != ""
}
