// Package extract finds redemption links in raw email messages.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// LinkPattern matches a redemption link. The token is one or more word
// characters and is not validated further.
var LinkPattern = regexp.MustCompile(`https://dondino\.de/link/\?\w+`)

// ContentType is the kind of textual body part a link may appear in.
type ContentType int

const (
	ContentPlain ContentType = iota
	ContentHTML
)

func (c ContentType) String() string {
	if c == ContentHTML {
		return "text/html"
	}
	return "text/plain"
}

// ParseContentType maps a MIME media type to a ContentType. Only
// text/plain and text/html are eligible for extraction.
func ParseContentType(mediaType string) (ContentType, bool) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "text/plain":
		return ContentPlain, true
	case "text/html":
		return ContentHTML, true
	default:
		return 0, false
	}
}

// Extract returns the first redemption link in content.
func Extract(content string, _ ContentType) (string, bool) {
	link := LinkPattern.FindString(content)
	return link, link != ""
}

// Part describes one eligible body part visited during a scan.
type Part struct {
	Index       int
	ContentType ContentType
	Size        int
}

// Visitor is called for every eligible part inspected, before matching.
// It may be nil.
type Visitor func(Part)

// FirstLink walks the MIME parts of raw in traversal order and returns the
// link of the first text/plain or text/html part that contains one. The
// walk stops at the first match. Attachments and non-text parts are
// skipped. A message that cannot be parsed as MIME is scanned as plain
// text. A part whose body fails to decode is skipped and the walk goes on;
// when no link is found such failures are returned so the caller knows the
// message was not fully inspected. A broken MIME structure ends the walk.
func FirstLink(raw io.Reader, visit Visitor) (string, bool, error) {
	data, err := io.ReadAll(raw)
	if err != nil {
		return "", false, fmt.Errorf("reading message: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil && !message.IsUnknownCharset(err) {
		// Not MIME at all; treat the whole thing as plain text.
		if visit != nil {
			visit(Part{Index: 0, ContentType: ContentPlain, Size: len(data)})
		}
		link, ok := Extract(string(data), ContentPlain)
		return link, ok, nil
	}
	defer mr.Close()

	var skipped []error
	for index := 0; ; index++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", false, errors.Join(skipped...)
		}
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			skipped = append(skipped, fmt.Errorf("reading part %d: %w", index, err))
			return "", false, errors.Join(skipped...)
		}

		ct, ok := partContentType(part.Header)
		if !ok {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("decoding part %d: %w", index, err))
			continue
		}

		if visit != nil {
			visit(Part{Index: index, ContentType: ct, Size: len(body)})
		}

		if link, found := Extract(string(body), ct); found {
			return link, true, nil
		}
	}
}

// partContentType reports the eligible content type of a part. Parts
// without a Content-Type header default to text/plain.
func partContentType(h mail.PartHeader) (ContentType, bool) {
	var (
		mediaType string
		err       error
	)

	switch h := h.(type) {
	case *mail.InlineHeader:
		mediaType, _, err = h.ContentType()
	case *mail.AttachmentHeader:
		mediaType, _, err = h.ContentType()
	default:
		return 0, false
	}

	if err != nil || mediaType == "" {
		if h.Get("Content-Type") == "" {
			return ContentPlain, true
		}
		return 0, false
	}

	return ParseContentType(mediaType)
}
