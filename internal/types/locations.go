package types

import "strings"

// CanonicalLocation is one facility of the closed location whitelist.
type CanonicalLocation struct {
	ID         string `json:"id"`         // stable slug used by rules and config
	Name       string `json:"name"`       // canonical facility name stored on items
	UpstreamID int    `json:"upstreamId"` // location filter value understood by the marketplace
	Keyword    string `json:"keyword"`    // substring used by rule location matching
}

// Locations is the facility catalogue in indexing order.
var Locations = []CanonicalLocation{
	{ID: "florence-industrial", Name: "Florence - Industrial Road", UpstreamID: 101, Keyword: "florence"},
	{ID: "florence-empire", Name: "Florence - Empire Drive", UpstreamID: 102, Keyword: "florence"},
	{ID: "cincinnati-broadwell", Name: "Cincinnati - Broadwell Road", UpstreamID: 201, Keyword: "cincinnati"},
	{ID: "cincinnati-school", Name: "Cincinnati - School Road", UpstreamID: 202, Keyword: "cincinnati"},
	{ID: "louisville-intermodal", Name: "Louisville - Intermodal Drive", UpstreamID: 301, Keyword: "louisville"},
	{ID: "lexington-sandersville", Name: "Lexington - Sandersville Road", UpstreamID: 401, Keyword: "lexington"},
	{ID: "columbus-refugee", Name: "Columbus - Refugee Road", UpstreamID: 501, Keyword: "columbus"},
	{ID: "dayton-moses", Name: "Dayton - Edwin C Moses Blvd", UpstreamID: 601, Keyword: "dayton"},
}

var (
	locationsByKey = map[string]CanonicalLocation{}
	locationsByID  = map[string]CanonicalLocation{}
)

func init() {
	for _, loc := range Locations {
		locationsByKey[foldLocation(loc.Name)] = loc
		locationsByID[loc.ID] = loc
	}
}

// foldLocation puts a location string in comparison form: lower case,
// unified dashes, single spaces. It does not drop or reorder words.
func foldLocation(s string) string {
	s = strings.NewReplacer("—", "-", "–", "-", "‒", "-", "−", "-").Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// LookupLocation maps a raw upstream location string onto the whitelist.
// Only an exact match in comparison form is accepted.
func LookupLocation(raw string) (CanonicalLocation, bool) {
	loc, ok := locationsByKey[foldLocation(raw)]
	return loc, ok
}

// LocationByID returns the catalogue entry with the given slug
func LocationByID(id string) (CanonicalLocation, bool) {
	loc, ok := locationsByID[strings.ToLower(strings.TrimSpace(id))]
	return loc, ok
}

// LocationByUpstreamID returns the catalogue entry for a marketplace location id
func LocationByUpstreamID(upstreamID int) (CanonicalLocation, bool) {
	for _, loc := range Locations {
		if loc.UpstreamID == upstreamID {
			return loc, true
		}
	}
	return CanonicalLocation{}, false
}

// LocationKeyword resolves a rule location identifier to the keyword used for
// substring matching. Catalogue slugs map to their keyword, anything else is
// used verbatim (lower cased), so a rule may say "Florence" or "florence-empire".
func LocationKeyword(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if loc, ok := locationsByID[id]; ok {
		return loc.Keyword
	}
	return id
}

// ResolveLocations returns the catalogue entries for the given ids in catalogue
// order. An empty list selects every location. Unknown ids are returned separately.
func ResolveLocations(ids []string) ([]CanonicalLocation, []string) {
	if len(ids) == 0 {
		out := make([]CanonicalLocation, len(Locations))
		copy(out, Locations)
		return out, nil
	}

	wanted := map[string]bool{}
	var unknown []string
	for _, id := range ids {
		if _, ok := LocationByID(id); !ok {
			unknown = append(unknown, id)
			continue
		}
		wanted[strings.ToLower(strings.TrimSpace(id))] = true
	}

	var out []CanonicalLocation
	for _, loc := range Locations {
		if wanted[loc.ID] {
			out = append(out, loc)
		}
	}
	return out, unknown
}
