package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Plain reads the file as UTF-8, dropping invalid bytes.
type Plain struct{}

func (Plain) Extract(_ context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Result{Text: strings.ToValidUTF8(string(data), "")}, nil
}

// PDF reads the text of every page. A page whose text cannot be decoded
// contributes an empty string so page numbers stay aligned.
type PDF struct{}

func (PDF) Extract(_ context.Context, path string) (res Result, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer f.Close()

	pages := make([]string, reader.NumPage())
	for i := range pages {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i] = strings.ToValidUTF8(text, "")
	}
	return Result{Text: strings.Join(pages, "\n\n"), Pages: pages}, nil
}

// Image runs tesseract OCR, treating the image as one uniform block of text
// with interword spacing preserved so table columns survive.
type Image struct {
	Tool   string
	Runner CommandRunner
}

func (i Image) Extract(ctx context.Context, path string) (Result, error) {
	out, err := i.Runner.Run(ctx, i.Tool, path, "stdout",
		"--oem", "3", "--psm", "6", "-c", "preserve_interword_spaces=1")
	if err != nil {
		return Result{}, err
	}
	return Result{Text: strings.ToValidUTF8(string(out), "")}, nil
}

// Docx reads paragraphs from word/document.xml, one per line.
type Docx struct{}

func (Docx) Extract(_ context.Context, path string) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		defer rc.Close()
		text, err := paragraphs(rc)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return Result{Text: text}, nil
	}
	return Result{}, fmt.Errorf("%w: missing word/document.xml", ErrInvalidDocument)
}

// paragraphs streams the WordprocessingML body, emitting w:t text, tabs and
// breaks, with a newline between paragraphs.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		paras  int
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if paras > 0 {
					b.WriteByte('\n')
				}
				paras++
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}
