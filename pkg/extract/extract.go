// Package extract turns uploaded source documents into plain text for prompting.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Accepted upload MIME types.
const (
	TypePDF      = "application/pdf"
	TypeDOC      = "application/msword"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypePNG      = "image/png"
	TypeJPEG     = "image/jpeg"
	TypeJPG      = "image/jpg"
)

var allowed = map[string]bool{
	TypePDF: true, TypeDOC: true, TypeDOCX: true,
	TypeText: true, TypeMarkdown: true, TypeHTML: true,
	TypePNG: true, TypeJPEG: true, TypeJPG: true,
}

// ErrNoText is returned when a document parses but holds no text.
var ErrNoText = errors.New("no text extracted")

// Allowed reports whether fileType may be uploaded.
func Allowed(fileType string) bool {
	return allowed[fileType]
}

// NeedsContent reports whether Text must read the file for fileType.
// Images and unknown types are described by Placeholder instead.
func NeedsContent(fileType string) bool {
	switch fileType {
	case TypePDF, TypeDOC, TypeDOCX, TypeText, TypeMarkdown, TypeHTML:
		return true
	}
	return false
}

// Placeholder describes a source whose content is not read.
func Placeholder(fileType, filePath string) string {
	if strings.HasPrefix(fileType, "image/") {
		return fmt.Sprintf("[Image file: %s]", path.Base(filePath))
	}
	return fmt.Sprintf("[Unsupported file type: %s]", fileType)
}

// Text extracts plain text from data according to fileType.
func Text(fileType string, data []byte) (string, error) {
	switch fileType {
	case TypePDF:
		return pdfText(data)
	case TypeDOCX:
		return docxText(data)
	case TypeDOC:
		// Many ".doc" uploads are really OOXML; the legacy binary format is not supported.
		if text, err := docxText(data); err == nil {
			return text, nil
		}
		return "", errors.New("legacy .doc format is not supported")
	case TypeHTML:
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		return normalizeText(htmlText(doc)), nil
	case TypeText, TypeMarkdown:
		return strings.ToValidUTF8(string(data), ""), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", fileType)
	}
}

// Truncate caps text at maxChars runes; maxChars <= 0 disables the cap.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + "\n[...truncated]"
}

// Page tree bounds. Reader.Page never returns when /Count disagrees with
// /Kids, so pages are collected by walking the tree directly.
const (
	maxPageTreeDepth = 32
	maxPageTreeNodes = 10000
)

var errPageTree = errors.New("pdf: page tree too deep or too large")

func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf: malformed document: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	leaves, err := pageLeaves(reader.Trailer().Key("Root").Key("Pages"))
	if err != nil {
		return "", err
	}
	var pages []string
	for _, page := range leaves {
		text, err := page.GetPlainText(pageFonts(page))
		if err != nil {
			// skip broken pages, keep the rest
			continue
		}
		if text = normalizeText(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("pdf: %w", ErrNoText)
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageFonts resolves the page's inherited font resources with a bounded
// /Parent walk. A nil map would make GetPlainText follow /Parent unbounded.
func pageFonts(page pdf.Page) map[string]*pdf.Font {
	fonts := make(map[string]*pdf.Font)
	var resources pdf.Value
	node := page.V
	for depth := 0; depth <= maxPageTreeDepth && !node.IsNull(); depth++ {
		if r := node.Key("Resources"); !r.IsNull() {
			resources = r
			break
		}
		node = node.Key("Parent")
	}
	fontDict := resources.Key("Font")
	for _, name := range fontDict.Keys() {
		font := pdf.Font{V: fontDict.Key(name)}
		fonts[name] = &font
	}
	return fonts
}

// pageLeaves returns the /Page nodes under root in document order.
func pageLeaves(root pdf.Value) ([]pdf.Page, error) {
	var (
		pages   []pdf.Page
		visited int
	)
	var walk func(node pdf.Value, depth int) error
	walk = func(node pdf.Value, depth int) error {
		visited++
		if depth > maxPageTreeDepth || visited > maxPageTreeNodes {
			return errPageTree
		}
		switch node.Key("Type").Name() {
		case "Page":
			pages = append(pages, pdf.Page{V: node})
		case "Pages":
			kids := node.Key("Kids")
			for i := 0; i < kids.Len(); i++ {
				if err := walk(kids.Index(i), depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, err
	}
	return pages, nil
}

// docxText reads word/document.xml and emits one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx: word/document.xml missing")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	defer rc.Close()

	var (
		out  strings.Builder
		line strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				line.WriteByte('\t')
			case "br", "cr":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				out.WriteString(strings.TrimRight(line.String(), " \t"))
				out.WriteByte('\n')
				line.Reset()
			}
		case xml.CharData:
			if inT {
				line.Write(t)
			}
		}
	}
	out.WriteString(line.String())
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("docx: %w", ErrNoText)
	}
	return text, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func htmlText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "noscript" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return buf.String()
}
