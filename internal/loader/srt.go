package loader

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"time"
)

// CleanSRT reduces SRT captions to their spoken text: blank lines, index
// lines and timestamp lines are dropped and the rest is joined with spaces.
func CleanSRT(srt string) string {
	var out []string
	for _, line := range strings.Split(srt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isDigits(line) || strings.Contains(line, "-->") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

type caption struct {
	start, dur time.Duration
	text       string
}

// parseTimedText reads YouTube timed-text XML. Both the legacy format
// (<text start="1.5" dur="2">) and srv3 (<p t="1500" d="2000">) are accepted.
func parseTimedText(r io.Reader) ([]caption, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var caps []caption
	var cur *caption
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding captions: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "text":
				cur = &caption{
					start: secondsAttr(t.Attr, "start"),
					dur:   secondsAttr(t.Attr, "dur"),
				}
				text.Reset()
			case "p":
				cur = &caption{
					start: millisAttr(t.Attr, "t"),
					dur:   millisAttr(t.Attr, "d"),
				}
				text.Reset()
			}
		case xml.CharData:
			if cur != nil {
				text.Write(t)
			}
		case xml.EndElement:
			if cur != nil && (t.Name.Local == "text" || t.Name.Local == "p") {
				cur.text = strings.Join(strings.Fields(html.UnescapeString(text.String())), " ")
				if cur.text != "" {
					caps = append(caps, *cur)
				}
				cur = nil
			}
		}
	}
	return caps, nil
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func secondsAttr(attrs []xml.Attr, name string) time.Duration {
	f, _ := strconv.ParseFloat(attr(attrs, name), 64)
	return time.Duration(f * float64(time.Second))
}

func millisAttr(attrs []xml.Attr, name string) time.Duration {
	n, _ := strconv.ParseInt(attr(attrs, name), 10, 64)
	return time.Duration(n) * time.Millisecond
}

// toSRT renders captions in SubRip form.
func toSRT(caps []caption) string {
	var b strings.Builder
	for i, c := range caps {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.start), srtTime(c.start+c.dur), c.text)
	}
	return b.String()
}

func srtTime(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, d/time.Millisecond)
}
