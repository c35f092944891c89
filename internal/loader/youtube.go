package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultYouTubeBase = "https://www.youtube.com"

// YouTubeLoader loads the caption transcript of a YouTube video, translated
// to English when the best available track is in another language.
type YouTubeLoader struct {
	client     *http.Client
	baseURL    string
	translator Translator
}

// NewYouTubeLoader creates a loader. A nil client gets a default one; an empty
// baseURL means www.youtube.com.
func NewYouTubeLoader(client *http.Client, baseURL string, translator Translator) *YouTubeLoader {
	if client == nil {
		client = &http.Client{Timeout: webFetchTimeout}
	}
	if baseURL == "" {
		baseURL = defaultYouTubeBase
	}
	return &YouTubeLoader{client: client, baseURL: strings.TrimRight(baseURL, "/"), translator: translator}
}

// captionTrack is one entry of the player response's captionTracks list.
type captionTrack struct {
	BaseURL string
	// Code follows the a.xx convention for auto-generated tracks.
	Code string
	Name string
}

// Load fetches the video's watch page, picks a caption track and returns the
// cleaned transcript as a single Document.
func (l *YouTubeLoader) Load(ctx context.Context, rawURL string) ([]Document, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*webFetchTimeout)
	defer cancel()

	page, err := fetch(ctx, l.client, l.baseURL+"/watch?v="+url.QueryEscape(id))
	if err != nil {
		return nil, err
	}
	player, err := playerResponse(page)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", id, err)
	}

	title := player.Get("videoDetails.title").String()
	if title == "" {
		title = rawURL
	}
	track, ok := pickCaption(captionTracks(player))
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, ErrNoCaptions)
	}
	if track.Code != "en" && track.Code != "a.en" {
		slog.Warn("no English caption found, using first available", "video", id, "caption", track.Name)
	}

	body, err := fetch(ctx, l.client, track.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("downloading captions: %w", err)
	}
	caps, err := parseTimedText(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	text := CleanSRT(toSRT(caps))
	if text == "" {
		return nil, fmt.Errorf("video %s: %w", id, ErrNoCaptions)
	}

	if track.Code != "en" && track.Code != "a.en" {
		src := strings.TrimPrefix(track.Code, "a.")
		if l.translator == nil {
			return nil, fmt.Errorf("captions are in %s and no translator is configured", src)
		}
		slog.Info("translating captions to English", "video", id, "from", src)
		text, err = l.translator.Translate(ctx, text, src)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, errors.New("translation failed or returned empty")
		}
	}

	return []Document{{Text: text, Title: title, Language: track.Code}}, nil
}

// VideoID extracts the video id from watch, short, embed and youtu.be URLs.
func VideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			id = parts[1]
		}
	}
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("no video id in %s: %w", rawURL, ErrUnsupported)
	}
	return id, nil
}

const playerMarker = "ytInitialPlayerResponse"

// playerResponse locates the ytInitialPlayerResponse object embedded in the
// watch page.
func playerResponse(page string) (gjson.Result, error) {
	i := strings.Index(page, playerMarker)
	if i < 0 {
		return gjson.Result{}, errors.New("player response not found")
	}
	rest := page[i+len(playerMarker):]
	j := strings.IndexByte(rest, '{')
	if j < 0 {
		return gjson.Result{}, errors.New("player response not found")
	}
	obj, ok := jsonObject(rest[j:])
	if !ok || !gjson.Valid(obj) {
		return gjson.Result{}, errors.New("malformed player response")
	}
	return gjson.Parse(obj), nil
}

// jsonObject returns the balanced {...} prefix of s.
func jsonObject(s string) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func captionTracks(player gjson.Result) []captionTrack {
	var tracks []captionTrack
	player.Get("captions.playerCaptionsTracklistRenderer.captionTracks").ForEach(func(_, t gjson.Result) bool {
		code := t.Get("languageCode").String()
		if t.Get("kind").String() == "asr" {
			code = "a." + code
		}
		name := t.Get("name.simpleText").String()
		if name == "" {
			name = t.Get("name.runs.0.text").String()
		}
		if base := t.Get("baseUrl").String(); base != "" && code != "" {
			tracks = append(tracks, captionTrack{BaseURL: base, Code: code, Name: name})
		}
		return true
	})
	return tracks
}

// pickCaption prefers auto-generated English, then English, then the first track.
func pickCaption(tracks []captionTrack) (captionTrack, bool) {
	for _, want := range []string{"a.en", "en"} {
		for _, t := range tracks {
			if t.Code == want {
				return t, true
			}
		}
	}
	if len(tracks) > 0 {
		return tracks[0], true
	}
	return captionTrack{}, false
}
