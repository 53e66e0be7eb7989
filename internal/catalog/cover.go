package catalog

import "fmt"

// Cover image sizes understood by the image CDN.
const (
	CoverBig   = "cover_big"
	CoverSmall = "cover_small"
)

const imageBaseURL = "https://images.igdb.com/igdb/image/upload"

// CoverURL returns the CDN URL of a cover image, or "" when imageID is empty.
func CoverURL(imageID, size string) string {
	if imageID == "" {
		return ""
	}
	if size == "" {
		size = CoverBig
	}
	return fmt.Sprintf("%s/t_%s/%s.jpg", imageBaseURL, size, imageID)
}
