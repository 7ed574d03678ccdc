// CLAUDE:SUMMARY Video transcript extractor: resolves caption tracks from the watch page (auto-generated first), renders minute-marked lines.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

var preferredLanguages = []string{"en", "en-US", "en-GB"}

// Video extracts transcripts from video watch pages.
type Video struct {
	get  *getter
	base string
	max  int
}

// NewVideo creates the video transcript extractor.
func NewVideo(cfg Config) *Video {
	cfg.defaults()
	base := strings.TrimRight(cfg.VideoBaseURL, "/")
	if base == "" {
		base = "https://www.youtube.com"
	}
	return &Video{get: newGetter("video", cfg.HTTP), base: base, max: cfg.MaxContentLength}
}

func (v *Video) Name() string { return "video" }

func (v *Video) CanHandle(src catalog.Source) bool {
	return handles(src, catalog.TypeVideo) && catalog.VideoID(src.URL) != ""
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

func (t captionTrack) auto() bool { return t.Kind == "asr" }

type cue struct {
	start float64
	text  string
}

func (v *Video) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	id := catalog.VideoID(src.URL)
	if id == "" {
		return nil, permanentErr(v.Name(), src.URL, ErrInvalidURL)
	}
	watchURL := v.base + "/watch?v=" + id

	page, err := v.get.get(ctx, watchURL)
	if err != nil {
		return nil, err
	}
	if unavailable(page.Body) {
		return nil, permanentErr(v.Name(), src.URL, fmt.Errorf("video unavailable: %s", id))
	}

	tracks, err := captionTracks(page.Body)
	if err != nil {
		return nil, permanentErr(v.Name(), src.URL, err)
	}
	track, ok := chooseTrack(tracks)
	if !ok {
		return nil, permanentErr(v.Name(), src.URL, fmt.Errorf("%w: %s", ErrNoTranscript, id))
	}

	trackURL := track.BaseURL
	if strings.HasPrefix(trackURL, "/") {
		trackURL = v.base + trackURL
	}
	resp, err := v.get.get(ctx, trackURL)
	if err != nil {
		return nil, err
	}
	cues, err := parseTimedText(resp.Body)
	if err != nil {
		return nil, permanentErr(v.Name(), src.URL, fmt.Errorf("transcript: %w", err))
	}
	if len(cues) == 0 {
		return nil, permanentErr(v.Name(), src.URL, fmt.Errorf("%w: empty track", ErrNoTranscript))
	}

	kind := "manual"
	if track.auto() {
		kind = "auto"
	}
	title := videoTitle(page.Body)
	if title == "" {
		title = src.Name
	}
	return &Result{
		Content:    truncate(formatTranscript(cues), v.max),
		Title:      title,
		SourceURL:  src.URL,
		SourceType: catalog.TypeVideo,
		Metadata: map[string]string{
			"video_id":    id,
			"youtube_url": "https://www.youtube.com/watch?v=" + id,
			"language":    track.LanguageCode,
			"track_kind":  kind,
		},
	}, nil
}

var playabilityRe = regexp.MustCompile(`"playabilityStatus":\{"status":"(ERROR|UNPLAYABLE|LOGIN_REQUIRED)"`)

func unavailable(page []byte) bool {
	return playabilityRe.Match(page)
}

// captionTracks decodes the captionTracks array embedded in the watch page.
// A page without the array has no transcript.
func captionTracks(page []byte) ([]captionTrack, error) {
	const marker = `"captionTracks":`
	idx := bytes.Index(page, []byte(marker))
	if idx < 0 {
		return nil, nil
	}
	var tracks []captionTrack
	dec := json.NewDecoder(bytes.NewReader(page[idx+len(marker):]))
	if err := dec.Decode(&tracks); err != nil {
		return nil, fmt.Errorf("caption tracks: %w", err)
	}
	return tracks, nil
}

// chooseTrack prefers auto-generated English, then manual English, then
// any auto-generated track, then any track.
func chooseTrack(tracks []captionTrack) (captionTrack, bool) {
	english := func(t captionTrack) bool {
		for _, l := range preferredLanguages {
			if strings.EqualFold(t.LanguageCode, l) {
				return true
			}
		}
		return false
	}
	passes := []func(captionTrack) bool{
		func(t captionTrack) bool { return t.auto() && english(t) },
		func(t captionTrack) bool { return !t.auto() && english(t) },
		func(t captionTrack) bool { return t.auto() },
		func(captionTrack) bool { return true },
	}
	for _, match := range passes {
		for _, t := range tracks {
			if t.BaseURL != "" && match(t) {
				return t, true
			}
		}
	}
	return captionTrack{}, false
}

type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
	Paragraphs []struct {
		T    int    `xml:"t,attr"`
		Body string `xml:",innerxml"`
	} `xml:"body>p"`
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// parseTimedText reads both the classic <transcript><text start=".."> layout
// and the srv3 <timedtext><body><p t="ms"> layout.
func parseTimedText(data []byte) ([]cue, error) {
	var tt timedText
	if err := xml.Unmarshal(data, &tt); err != nil {
		return nil, err
	}
	var cues []cue
	for _, t := range tt.Texts {
		start, _ := strconv.ParseFloat(t.Start, 64)
		cues = append(cues, cue{start: start, text: cleanCue(t.Body)})
	}
	for _, p := range tt.Paragraphs {
		cues = append(cues, cue{start: float64(p.T) / 1000, text: cleanCue(tagRe.ReplaceAllString(p.Body, ""))})
	}
	return cues, nil
}

func cleanCue(s string) string {
	s = html.UnescapeString(html.UnescapeString(s))
	return strings.Join(strings.Fields(s), " ")
}

// formatTranscript groups cues under [MM:00] minute markers.
func formatTranscript(cues []cue) string {
	var lines []string
	current := -1
	for _, c := range cues {
		minute := int(c.start) / 60
		if minute > current {
			if len(lines) > 0 {
				lines = append(lines, "")
			}
			lines = append(lines, fmt.Sprintf("[%02d:00]", minute))
			current = minute
		}
		if c.text != "" {
			lines = append(lines, c.text)
		}
	}
	return strings.Join(lines, "\n")
}

func videoTitle(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find(`meta[name="title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimSuffix(doc.Find("title").First().Text(), " - YouTube"))
}
