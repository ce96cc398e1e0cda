package roster

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
)

// Header is the first line of the clipboard export.
var Header = []string{"Name", "EMPLID", "Phone", "Personal Email", "Citymail", "Address", "Emergency Contact"}

const missing = "N/A"

// Columns returns a signup's export columns in header order. Absent values
// are rendered as N/A.
func Columns(s club.Signup) []string {
	return []string{
		s.ProfileName.OrElse(missing),
		s.ProfileEmplid.OrElse(missing),
		s.ProfilePhone.OrElse(missing),
		s.ProfileEmail.OrElse(missing),
		s.ProfileCitymail.OrElse(missing),
		s.ProfileAddress.OrElse(missing),
		s.ProfileEmergencyContact.OrElse(missing),
	}
}

// cellReplacer keeps every signup on a single TSV line.
var cellReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// FormatTSV renders the roster as tab-separated text for pasting into a
// spreadsheet: the header line followed by one line per signup.
func FormatTSV(signups []club.Signup) string {
	lines := make([]string, 0, len(signups)+1)
	lines = append(lines, strings.Join(Header, "\t"))
	for _, s := range signups {
		cols := Columns(s)
		for i, c := range cols {
			cols[i] = cellReplacer.Replace(c)
		}
		lines = append(lines, strings.Join(cols, "\t"))
	}
	return strings.Join(lines, "\n")
}

// ShareLink builds the public roster link for sessionID on top of base
// (scheme, host and path of the app).
func ShareLink(base *url.URL, sessionID string) string {
	u := *base
	u.RawQuery = url.Values{"page": {"roster"}, "session": {sessionID}}.Encode()
	u.Fragment = ""
	return u.String()
}

// Fetch reads a session's signups once, in signup order.
func Fetch(ctx context.Context, db docstore.Database, cols club.Collections, sessionID string) ([]club.Signup, error) {
	docs, err := db.Query(ctx, docstore.Collection(cols.Signups).Where("sessionId", sessionID))
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	signups := club.DecodeAll(docs, club.SignupFromDoc)
	club.SortSignups(signups)
	return signups, nil
}
