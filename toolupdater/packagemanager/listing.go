package packagemanager

import "strings"

// ListingParser turns the table printed by the list command into package ids.
//
// Rows that are blank or start with HeaderToken are dropped, the first field of
// every other row is taken, and the first SkipRows ids are discarded. The default
// skip of two removes the column titles and the dashed rule of `dotnet tool list`,
// which start with "Package Id" and "-----" and so pass the header filter.
type ListingParser struct {
	HeaderToken string
	SkipRows    int
}

func DefaultListingParser() ListingParser {
	return ListingParser{HeaderToken: "Tool", SkipRows: 2}
}

// Parse never returns nil; an empty slice means nothing is installed.
func (p ListingParser) Parse(raw string) []string {
	ids := []string{}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if p.HeaderToken != "" && strings.HasPrefix(trimmed, p.HeaderToken) {
			continue
		}
		ids = append(ids, strings.Fields(trimmed)[0])
	}

	if p.SkipRows <= 0 {
		return ids
	}
	if len(ids) <= p.SkipRows {
		return []string{}
	}
	return ids[p.SkipRows:]
}
