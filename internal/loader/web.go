package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	webFetchTimeout = 15 * time.Second
	maxPageBytes    = 5 << 20
	userAgent       = "Mozilla/5.0 (compatible; workbench/1.0)"
)

// WebLoader fetches https pages and extracts their readable text.
type WebLoader struct {
	client *http.Client
}

// NewWebLoader returns a WebLoader. A nil client gets a default one.
func NewWebLoader(client *http.Client) *WebLoader {
	if client == nil {
		client = &http.Client{Timeout: webFetchTimeout}
	}
	return &WebLoader{client: client}
}

// Load fetches rawURL and returns its visible text as a single Document.
func (l *WebLoader) Load(ctx context.Context, rawURL string) ([]Document, error) {
	if !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%s is not a secure (https) link: %w", rawURL, ErrUnsupported)
	}

	ctx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	body, err := fetch(ctx, l.client, rawURL)
	if err != nil {
		return nil, err
	}

	title, text, err := extractText(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	if text == "" {
		return nil, fmt.Errorf("no readable text at %s", rawURL)
	}
	if title == "" {
		title = rawURL
	}
	return []Document{{Text: text, Title: title, Language: "en"}}, nil
}

// fetch GETs rawURL and returns at most maxPageBytes of the body.
func fetch(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return string(b), nil
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Svg:      true,
	atom.Template: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true,
}

// extractText walks the parsed document, returning the <title> and the
// visible text with one line per block element.
func extractText(r io.Reader) (title, text string, err error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title {
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(root)
	flush()

	return title, strings.Join(lines, "\n"), nil
}
