package catalog

import (
	"regexp"
	"strings"
)

var (
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?youtube\.com/watch\?(?:.*&)?v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	}
	repositoryPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?github\.com/([^/\s]+)/([^/\s#?]+)`)
	paperPattern      = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5})(?:v\d+)?`)
)

// DetectType infers a source type from its URL. Order matters: video hosts,
// code hosts and paper archives are checked before the generic web fallback.
func DetectType(rawURL string) SourceType {
	u := strings.TrimSpace(rawURL)
	if IsLocalPath(u) {
		return TypeFile
	}
	if VideoID(u) != "" {
		return TypeVideo
	}
	if owner, _ := RepositoryParts(u); owner != "" {
		return TypeRepository
	}
	if PaperID(u) != "" {
		return TypePaper
	}
	return TypeWeb
}

// IsLocalPath reports whether u names a file on disk rather than a URL.
func IsLocalPath(u string) bool {
	return strings.HasPrefix(u, "/") ||
		strings.HasPrefix(u, "~") ||
		strings.HasPrefix(u, "./") ||
		strings.HasPrefix(u, "../") ||
		strings.HasPrefix(u, "file://")
}

// VideoID extracts the 11-character video id, or "".
func VideoID(u string) string {
	for _, re := range videoPatterns {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	return ""
}

// RepositoryParts returns owner and repo for a code-hosting URL.
func RepositoryParts(u string) (owner, repo string) {
	m := repositoryPattern.FindStringSubmatch(u)
	if m == nil {
		return "", ""
	}
	return m[1], strings.TrimSuffix(m[2], ".git")
}

// PaperID extracts an arXiv identifier without version suffix.
func PaperID(u string) string {
	if m := paperPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}
