package extract

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

const maxDepth = 32

var errTooDeep = errors.New("multipart nesting too deep")

// Part is one node of a parsed MIME tree. A node is a container only when
// its multipart body yielded at least one child; anything else is a leaf.
type Part struct {
	// ContentType is the lower-cased media type, text/plain when the header
	// is missing or unparsable.
	ContentType string
	Params      map[string]string
	// Disposition is the raw Content-Disposition value.
	Disposition string
	Filename    string
	// Body is the payload with transfer encoding and, for text/* parts, the
	// declared charset decoded.
	Body []byte
	// Content is the payload with only the transfer encoding removed. This
	// is what gets staged to disk.
	Content  []byte
	Children []*Part
	// Err records a best-effort decoding problem: an unknown charset or
	// transfer encoding, a truncated body or a broken multipart boundary.
	Err error
}

func (p *Part) IsContainer() bool {
	return len(p.Children) > 0
}

func (p *Part) IsAttachment() bool {
	return strings.Contains(strings.ToLower(p.Disposition), "attachment")
}

// Leaves yields every non-container part in document order.
func (p *Part) Leaves() iter.Seq[*Part] {
	return func(yield func(*Part) bool) {
		p.walk(yield)
	}
}

func (p *Part) walk(yield func(*Part) bool) bool {
	if !p.IsContainer() {
		return yield(p)
	}
	for _, child := range p.Children {
		if !child.walk(yield) {
			return false
		}
	}
	return true
}

// Errors yields the decoding problems recorded anywhere in the tree.
func (p *Part) Errors() iter.Seq[error] {
	return func(yield func(error) bool) {
		var visit func(*Part) bool
		visit = func(n *Part) bool {
			if n.Err != nil && !yield(n.Err) {
				return false
			}
			for _, child := range n.Children {
				if !visit(child) {
					return false
				}
			}
			return true
		}
		visit(p)
	}
}

// ParseTree parses raw into a tree of parts. It never fails: a message whose
// header cannot be parsed becomes a single text/plain leaf holding whatever
// follows the header block, and a multipart body without a single readable
// part becomes a leaf holding that body.
func ParseTree(raw []byte) *Part {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		body := fallbackBody(raw)
		return &Part{
			ContentType: "text/plain",
			Body:        body,
			Content:     body,
			Err:         err,
		}
	}
	return buildPart(message.Header{Header: h}, br, 0)
}

func buildPart(h message.Header, r io.Reader, depth int) *Part {
	p := &Part{Disposition: h.Get("Content-Disposition")}

	mediaType, params, err := h.ContentType()
	mediaType = strings.ToLower(mediaType)
	if err != nil || !strings.Contains(mediaType, "/") {
		mediaType, params = "text/plain", nil
	}
	p.ContentType, p.Params = mediaType, params

	ah := mail.AttachmentHeader{Header: h}
	p.Filename, _ = ah.Filename()

	data, err := io.ReadAll(r)
	if err != nil {
		p.Err = err
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxDepth {
			p.Err = errors.Join(p.Err, errTooDeep)
		} else {
			p.Err = errors.Join(p.Err, p.readChildren(data, params["boundary"], depth))
		}
		if p.IsContainer() {
			return p
		}
	}

	p.decode(h, data)
	return p
}

func (p *Part) readChildren(data []byte, boundary string, depth int) error {
	mr := textproto.NewMultipartReader(bytes.NewReader(data), boundary)
	for {
		child, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if len(p.Children) == 0 {
				return fmt.Errorf("no readable multipart part: %w", err)
			}
			return err
		}
		p.Children = append(p.Children, buildPart(message.Header{Header: child.Header}, child, depth+1))
	}
}

// decode fills Body and Content from the undecoded payload data.
func (p *Part) decode(h message.Header, data []byte) {
	entity, err := message.New(h, bytes.NewReader(data))
	if err != nil {
		p.Err = errors.Join(p.Err, err)
	}
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		p.Err = errors.Join(p.Err, err)
	}
	p.Body = body

	_, params, _ := h.ContentType()
	if _, hasCharset := params["charset"]; !hasCharset || !strings.HasPrefix(p.ContentType, "text/") {
		p.Content = body
		return
	}

	// Same header without Content-Type: transfer decoding only.
	raw := message.Header{Header: h.Copy()}
	raw.Del("Content-Type")
	entity, _ = message.New(raw, bytes.NewReader(data))
	if p.Content, err = io.ReadAll(entity.Body); err != nil {
		p.Content = body
	}
}

func fallbackBody(raw []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		idx := bytes.Index(raw, sep)
		if idx < 0 {
			continue
		}
		firstLine, _, _ := bytes.Cut(raw[:idx], []byte("\n"))
		if bytes.Contains(firstLine, []byte(":")) {
			return raw[idx+len(sep):]
		}
	}
	return raw
}
