// Package protocol extracts the reply fields the assistant is instructed to
// emit: a <subject> region, a <markdown_body> region and any inline image
// references inside the body.
package protocol

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrMissingSubject is returned in strict mode when no subject region is present.
	ErrMissingSubject = errors.New("response has no <subject> region")

	// ErrMissingBody is returned in strict mode when no body region is present.
	ErrMissingBody = errors.New("response has no <markdown_body> region")
)

var (
	subjectPattern = regexp.MustCompile(`(?s)<subject>(.+)</subject>`)
	bodyPattern    = regexp.MustCompile(`(?s)<markdown_body>(.+)</markdown_body>`)
	imagePattern   = regexp.MustCompile(`\[[^\]\n]*\]\(([^)\s]+)\)`)
	schemePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
)

// Attachment is an inline image referenced from the body.
type Attachment struct {
	// Reference is the link target as written by the model.
	Reference string
	// ContentID is the reference's file name without extension.
	ContentID string
	// Path is the reference resolved inside the scratch directory.
	Path string
}

// Response is the parsed form of the assistant's final text.
type Response struct {
	Subject      string
	BodyMarkdown string
	Attachments  []Attachment
}

// AttachmentPaths returns the resolved attachment paths in appearance order.
func (r *Response) AttachmentPaths() []string {
	paths := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		paths = append(paths, a.Path)
	}
	return paths
}

// Parser extracts Responses from raw model output.
type Parser struct {
	scratchDir string
	strict     bool
}

// NewParser creates a parser resolving attachments against scratchDir.
// In strict mode a missing subject or body region is an error; otherwise
// the field is left empty.
func NewParser(scratchDir string, strict bool) *Parser {
	return &Parser{scratchDir: scratchDir, strict: strict}
}

// Parse extracts the subject, body and inline attachments from raw.
func (p *Parser) Parse(raw string) (*Response, error) {
	subject, hasSubject := firstGroup(subjectPattern, raw)
	body, hasBody := firstGroup(bodyPattern, raw)

	if p.strict {
		switch {
		case !hasSubject:
			return nil, ErrMissingSubject
		case !hasBody:
			return nil, ErrMissingBody
		}
	}

	resp := &Response{Subject: subject}
	body = imagePattern.ReplaceAllStringFunc(body, func(link string) string {
		m := imagePattern.FindStringSubmatchIndex(link)
		ref := link[m[2]:m[3]]
		if schemePattern.MatchString(ref) {
			return link
		}
		a := Attachment{
			Reference: ref,
			ContentID: contentID(ref),
			Path:      p.resolve(ref),
		}
		resp.Attachments = append(resp.Attachments, a)
		return link[:m[2]] + "cid:" + a.ContentID + link[m[3]:]
	})
	resp.BodyMarkdown = body
	return resp, nil
}

// resolve confines a reference to the scratch directory.
func (p *Parser) resolve(ref string) string {
	return filepath.Join(p.scratchDir, filepath.Base(filepath.Clean(ref)))
}

func contentID(ref string) string {
	base := filepath.Base(ref)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstGroup(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
