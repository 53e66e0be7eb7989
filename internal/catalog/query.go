package catalog

import (
	"fmt"
	"strings"
)

const (
	gamesEndpoint = "games"
	pcPlatform    = "win"

	searchFields = "id,name,slug,first_release_date,total_rating_count,cover.image_id,genres.name,platforms.name"
	detailFields = "id,name,slug,summary,first_release_date,total_rating_count,cover.image_id,genres.name,platforms.name"
)

// searchQuery builds the search body. Only PC games with a cover are returned.
func searchQuery(term string, limit int) string {
	return fmt.Sprintf(
		"search %q; fields %s; where cover != null & platforms.slug = %q; limit %d;",
		sanitizeTerm(term), searchFields, pcPlatform, limit,
	)
}

// detailQuery builds the fetch-by-id body.
func detailQuery(id int64) string {
	return fmt.Sprintf(
		"fields %s; where id = %d & platforms.slug = %q; limit 1;",
		detailFields, id, pcPlatform,
	)
}

// sanitizeTerm drops characters that would terminate the quoted search
// string or the statement.
func sanitizeTerm(term string) string {
	term = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', ';':
			return ' '
		}
		if r < 0x20 {
			return ' '
		}
		return r
	}, term)
	return strings.Join(strings.Fields(term), " ")
}
