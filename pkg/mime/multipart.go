package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	ContentTypeMultipartRelated = "multipart/related"
	ContentTypeSOAPXML          = "application/soap+xml"
	ContentTypeTextXML          = "text/xml"
	ContentTypeApplicationXML   = "application/xml"
)

// ErrNoEnvelope is returned when a message has no SOAP envelope part
var ErrNoEnvelope = errors.New("SOAP envelope not found in message")

// Part is a MIME attachment
type Part struct {
	ContentID   string
	ContentType string
	Data        []byte
}

// Message is a parsed AS4 MIME message
type Message struct {
	Envelope []byte
	Parts    []Part
}

// Find returns the part referenced by a cid: href or Content-ID
func (m *Message) Find(ref string) (*Part, bool) {
	want := NormalizeContentID(ref)
	for i := range m.Parts {
		if NormalizeContentID(m.Parts[i].ContentID) == want {
			return &m.Parts[i], true
		}
	}
	return nil, false
}

// Serialize creates a multipart/related body with the envelope as root part
func Serialize(envelope []byte, parts []Part) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	boundary := "----=_Part_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("setting boundary: %w", err)
	}

	startID := uuid.NewString() + "@peppol-ap"
	soapHeader := textproto.MIMEHeader{}
	soapHeader.Set("Content-Type", ContentTypeSOAPXML+"; charset=UTF-8")
	soapHeader.Set("Content-Transfer-Encoding", "binary")
	soapHeader.Set("Content-ID", "<"+startID+">")
	pw, err := w.CreatePart(soapHeader)
	if err != nil {
		return nil, "", fmt.Errorf("creating envelope part: %w", err)
	}
	if _, err := pw.Write(envelope); err != nil {
		return nil, "", fmt.Errorf("writing envelope part: %w", err)
	}

	for _, p := range parts {
		ct := p.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", ct)
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-ID", "<"+NormalizeContentID(p.ContentID)+">")
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating payload part: %w", err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("writing payload part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	contentType := mime.FormatMediaType(ContentTypeMultipartRelated, map[string]string{
		"boundary": boundary,
		"type":     ContentTypeSOAPXML,
		"start":    "<" + startID + ">",
	})
	return buf.Bytes(), contentType, nil
}

// Parse reads an AS4 message body. Non-multipart SOAP bodies are returned as
// an envelope without parts.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parsing content type: %w", err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		switch mediaType {
		case ContentTypeSOAPXML, ContentTypeTextXML, ContentTypeApplicationXML:
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("reading body: %w", err)
			}
			if len(bytes.TrimSpace(data)) == 0 {
				return nil, ErrNoEnvelope
			}
			return &Message{Envelope: data}, nil
		}
		return nil, fmt.Errorf("unsupported content type: %s", mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}
	start := NormalizeContentID(params["start"])

	msg := &Message{}
	mr := multipart.NewReader(r, boundary)
	first := true
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading part: %w", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("reading part data: %w", err)
		}

		cid := NormalizeContentID(part.Header.Get("Content-ID"))
		isEnvelope := msg.Envelope == nil && ((start == "" && first) || (start != "" && cid == start))
		first = false
		if isEnvelope {
			msg.Envelope = data
			continue
		}
		msg.Parts = append(msg.Parts, Part{
			ContentID:   cid,
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	if msg.Envelope == nil {
		return nil, ErrNoEnvelope
	}
	return msg, nil
}

// NormalizeContentID strips the cid: prefix and angle brackets
func NormalizeContentID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "cid:")
	id = strings.TrimPrefix(id, "<")
	return strings.TrimSuffix(id, ">")
}
