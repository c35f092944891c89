package loader

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LoadPDF extracts one Document per page that yields text.
func LoadPDF(name string, r io.ReaderAt, size int64) (docs []Document, err error) {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, fmt.Errorf("%s is not a PDF file: %w", name, ErrUnsupported)
	}

	// The pdf package panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			docs, err = nil, fmt.Errorf("reading %s: malformed PDF: %v", name, p)
		}
	}()

	rdr, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	for i := 1; i <= rdr.NumPage(); i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			// Image-only pages carry no text.
			continue
		}
		txt = strings.TrimSpace(txt)
		if txt == "" {
			continue
		}
		docs = append(docs, Document{Text: txt, Title: title, Language: "en", Page: i})
	}
	if len(docs) == 0 {
		return nil, errors.New("no extractable text in " + name)
	}
	return docs, nil
}
