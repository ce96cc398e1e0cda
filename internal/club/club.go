// Package club holds the typed records of the climbing club (profiles,
// sessions and signups) and the mapping between them and stored documents.
package club

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

// ErrMapping is returned when a stored document is missing a required
// field or holds a value of the wrong type.
var ErrMapping = errors.New("document does not match record type")

// Collections names the three collections for one app instance.
type Collections struct {
	Profiles string
	Sessions string
	Signups  string
}

// NewCollections returns the collection names namespaced by appID.
func NewCollections(appID string) Collections {
	return Collections{
		Profiles: fmt.Sprintf("artifacts/%s/users", appID),
		Sessions: fmt.Sprintf("artifacts/%s/public/data/sessions", appID),
		Signups:  fmt.Sprintf("artifacts/%s/public/data/signups", appID),
	}
}

// Optional is a value that may be absent.
type Optional[T any] struct {
	value T
	set   bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// OptionalString treats the empty string as absent.
func OptionalString(s string) Optional[string] {
	if s == "" {
		return Optional[string]{}
	}
	return Some(s)
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the value is present.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

// MarshalJSON encodes an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// Profile is a member's one-time profile, keyed by their user id.
type Profile struct {
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	Emplid           string    `json:"emplid"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	Citymail         string    `json:"citymail"`
	Address          string    `json:"address"`
	EmergencyContact string    `json:"emergencyContact"`
	WaiverChecked    bool      `json:"waiverChecked"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Session is a scheduled climbing session.
type Session struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	SessionDate time.Time        `json:"sessionDate"`
	Description Optional[string] `json:"description"`
	Location    Optional[string] `json:"location"`
	Price       Optional[string] `json:"price"`
	WaiverLink  Optional[string] `json:"waiverLink"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// WaiverURL returns the waiver link with a scheme, or "" when unset.
func (s Session) WaiverURL() string {
	link, ok := s.WaiverLink.Get()
	if !ok {
		return ""
	}
	return NormalizeLink(link)
}

// Signup is one user's place on one session, with a copy of their
// profile taken at sign-up time.
type Signup struct {
	ID                      string           `json:"id"`
	UserID                  string           `json:"userId"`
	SessionID               string           `json:"sessionId"`
	ProfileName             Optional[string] `json:"profileName"`
	ProfileEmplid           Optional[string] `json:"profileEmplid"`
	ProfilePhone            Optional[string] `json:"profilePhone"`
	ProfileEmail            Optional[string] `json:"profileEmail"`
	ProfileCitymail         Optional[string] `json:"profileCitymail"`
	ProfileAddress          Optional[string] `json:"profileAddress"`
	ProfileEmergencyContact Optional[string] `json:"profileEmergencyContact"`
	SignedUpAt              time.Time        `json:"signedUpAt"`
}

// NormalizeLink prefixes links that do not start with "http" with https://.
func NormalizeLink(link string) string {
	if strings.HasPrefix(link, "http") {
		return link
	}
	return "https://" + link
}

// ProfileFields builds the stored body of a profile. createdAt is set by
// the store.
func ProfileFields(p Profile) docstore.Fields {
	return docstore.Fields{
		"name":             p.Name,
		"emplid":           p.Emplid,
		"phone":            p.Phone,
		"email":            p.Email,
		"citymail":         p.Citymail,
		"address":          p.Address,
		"emergencyContact": p.EmergencyContact,
		"waiverChecked":    p.WaiverChecked,
		"createdAt":        docstore.ServerTimestamp,
	}
}

// SessionFields builds the stored body of a session.
func SessionFields(s Session) docstore.Fields {
	return docstore.Fields{
		"name":        s.Name,
		"sessionDate": s.SessionDate,
		"description": s.Description.OrElse(""),
		"location":    s.Location.OrElse(""),
		"price":       s.Price.OrElse(""),
		"waiverLink":  s.WaiverLink.OrElse(""),
		"createdBy":   s.CreatedBy,
		"createdAt":   docstore.ServerTimestamp,
	}
}

// SignupFields builds the stored body of a signup from the user's current
// profile.
func SignupFields(userID, sessionID string, p Profile) docstore.Fields {
	return docstore.Fields{
		"userId":                  userID,
		"sessionId":               sessionID,
		"profileName":             p.Name,
		"profileEmplid":           p.Emplid,
		"profilePhone":            p.Phone,
		"profileEmail":            p.Email,
		"profileCitymail":         p.Citymail,
		"profileAddress":          p.Address,
		"profileEmergencyContact": p.EmergencyContact,
		"signedUpAt":              docstore.ServerTimestamp,
	}
}

// ProfileFromDoc maps a stored profile. The user id is the document id.
func ProfileFromDoc(doc docstore.Document) (Profile, error) {
	r := reader{doc: doc}
	p := Profile{
		UserID:           doc.ID,
		Name:             r.required("name"),
		Emplid:           r.required("emplid"),
		Phone:            r.required("phone"),
		Email:            r.required("email"),
		Citymail:         r.required("citymail"),
		Address:          r.required("address"),
		EmergencyContact: r.required("emergencyContact"),
		WaiverChecked:    r.flag("waiverChecked"),
		CreatedAt:        r.timestamp("createdAt"),
	}
	return p, r.err
}

// SessionFromDoc maps a stored session.
func SessionFromDoc(doc docstore.Document) (Session, error) {
	r := reader{doc: doc}
	s := Session{
		ID:          doc.ID,
		Name:        r.required("name"),
		SessionDate: r.requiredTime("sessionDate"),
		Description: r.optional("description"),
		Location:    r.optional("location"),
		Price:       r.optional("price"),
		WaiverLink:  r.optional("waiverLink"),
		CreatedBy:   r.optional("createdBy").OrElse(""),
		CreatedAt:   r.timestamp("createdAt"),
	}
	return s, r.err
}

// SignupFromDoc maps a stored signup.
func SignupFromDoc(doc docstore.Document) (Signup, error) {
	r := reader{doc: doc}
	s := Signup{
		ID:                      doc.ID,
		UserID:                  r.required("userId"),
		SessionID:               r.required("sessionId"),
		ProfileName:             r.optional("profileName"),
		ProfileEmplid:           r.optional("profileEmplid"),
		ProfilePhone:            r.optional("profilePhone"),
		ProfileEmail:            r.optional("profileEmail"),
		ProfileCitymail:         r.optional("profileCitymail"),
		ProfileAddress:          r.optional("profileAddress"),
		ProfileEmergencyContact: r.optional("profileEmergencyContact"),
		SignedUpAt:              r.timestamp("signedUpAt"),
	}
	return s, r.err
}

// reader pulls typed values out of a document and remembers the first
// problem it hits.
type reader struct {
	doc docstore.Document
	err error
}

func (r *reader) fail(field, problem string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s/%s field %q %s", ErrMapping, r.doc.Collection, r.doc.ID, field, problem)
	}
}

func (r *reader) required(field string) string {
	v, ok := r.doc.Fields[field]
	if !ok || v == nil {
		r.fail(field, "is missing")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "is not a string")
		return ""
	}
	return s
}

func (r *reader) optional(field string) Optional[string] {
	v, ok := r.doc.Fields[field]
	if !ok || v == nil {
		return Optional[string]{}
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "is not a string")
		return Optional[string]{}
	}
	return OptionalString(s)
}

func (r *reader) flag(field string) bool {
	v, ok := r.doc.Fields[field]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(field, "is not a bool")
	}
	return b
}

func (r *reader) requiredTime(field string) time.Time {
	s := r.required(field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail(field, "is not a timestamp")
	}
	return t
}

// timestamp reads an optional timestamp; absent or malformed values are
// the zero time.
func (r *reader) timestamp(field string) time.Time {
	s, ok := r.doc.Fields[field].(string)
	if !ok {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// DecodeAll maps every document with decode, skipping (and logging) the
// ones that do not fit the record type.
func DecodeAll[T any](docs []docstore.Document, decode func(docstore.Document) (T, error)) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode(doc)
		if err != nil {
			logger.Warn.Printf("skipping document: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// SortSessionsAscending orders sessions by date, earliest first.
func SortSessionsAscending(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SessionDate.Before(sessions[j].SessionDate)
	})
}

// SortSessionsDescending orders sessions by date, latest first.
func SortSessionsDescending(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SessionDate.After(sessions[j].SessionDate)
	})
}

// SortSignups orders signups by sign-up time, earliest first.
func SortSignups(signups []Signup) {
	sort.SliceStable(signups, func(i, j int) bool {
		return signups[i].SignedUpAt.Before(signups[j].SignedUpAt)
	})
}
