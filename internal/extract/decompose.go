// Package extract turns a raw RFC 822 message into a plain-text body and a
// list of attachments staged on disk.
package extract

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/logger"
)

type Decomposer struct {
	stagingDir string
	marker     string
	log        logger.Logger
}

// New returns a Decomposer that writes attachments into stagingDir and cuts
// the body at marker. An empty marker disables truncation.
func New(stagingDir, marker string, log logger.Logger) *Decomposer {
	if log == nil {
		log = logger.Nop()
	}
	return &Decomposer{
		stagingDir: stagingDir,
		marker:     marker,
		log:        log.With("component", "extract"),
	}
}

// Decompose never fails. Undecodable bytes are dropped from text, parts
// that cannot be staged are logged and skipped.
//
// For a multipart message every leaf is classified in document order:
//   - text/plain without an attachment disposition becomes the body; a later
//     one replaces an earlier one
//   - an attachment disposition with a filename is staged as a file
//   - an image/* part with a filename is staged as an image
//
// Attachments are staged byte for byte as sent, without charset
// conversion. A single-part message, or a multipart one whose parts cannot
// be read, contributes its whole payload as the body.
func (d *Decomposer) Decompose(raw domain.RawMessage) domain.ParsedMessage {
	root := ParseTree(raw)
	for err := range root.Errors() {
		d.log.Debug("best-effort decode", "error", err)
	}

	var parsed domain.ParsedMessage
	if root.IsContainer() {
		for part := range root.Leaves() {
			d.classify(part, &parsed)
		}
	} else {
		parsed.Body = text(root.Body)
	}

	parsed.Body = Truncate(parsed.Body, d.marker)
	return parsed
}

func (d *Decomposer) classify(part *Part, parsed *domain.ParsedMessage) {
	switch {
	case part.ContentType == "text/plain" && !part.IsAttachment():
		parsed.Body = text(part.Body)
	case part.IsAttachment():
		d.stage(part, domain.AttachmentFile, parsed)
	case strings.HasPrefix(part.ContentType, "image"):
		d.stage(part, domain.AttachmentImage, parsed)
	default:
		d.log.Debug("part ignored", "content_type", part.ContentType)
	}
}

func (d *Decomposer) stage(part *Part, kind domain.AttachmentKind, parsed *domain.ParsedMessage) {
	name := SafeFilename(part.Filename)
	if name == "" {
		d.log.Debug("part without filename dropped", "content_type", part.ContentType, "kind", kind)
		return
	}

	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		d.log.Error("create staging dir", "dir", d.stagingDir, "error", err)
		return
	}
	path := filepath.Join(d.stagingDir, name)
	if err := os.WriteFile(path, part.Content, 0o644); err != nil {
		d.log.Error("stage attachment", "path", path, "error", err)
		return
	}

	d.log.Debug("attachment staged", "path", path, "kind", kind, "bytes", len(part.Content))
	parsed.Attachments = append(parsed.Attachments, domain.Attachment{
		Kind:     kind,
		Path:     path,
		Filename: name,
	})
}

// Truncate cuts body before the first occurrence of marker and trims the
// surrounding whitespace. body is returned unchanged when marker is empty or
// absent.
func Truncate(body, marker string) string {
	if marker == "" {
		return body
	}
	before, _, found := strings.Cut(body, marker)
	if !found {
		return body
	}
	return strings.TrimSpace(before)
}

// SafeFilename reduces name to its final path element so a staged file
// cannot escape the staging directory. It returns "" for names with no
// usable element.
func SafeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(filepath.FromSlash(name))
	switch base {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return base
}

func text(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}
