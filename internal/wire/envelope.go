// Envelope codec: wraps PlainPacket/SecurePacket as RFC 5322 email
// messages. The port label travels in the display-name of From/To; the
// address in the mailbox part. Body is base64-encoded protobuf.
package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"

	"github.com/mailim/tom/internal/endpoint"
)

// XMailer is the constant X-Mailer header value stamped on every packet
// this implementation produces, and required on every packet it accepts.
const XMailer = "mailim-tom/1.0"

func formatAddress(e endpoint.Endpoint) string {
	addr := mail.Address{Name: e.Port, Address: e.Address}
	return addr.String()
}

func parseAddress(header string) (endpoint.Endpoint, error) {
	addr, err := mail.ParseAddress(header)
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("%w: address: %v", ErrInvalidPacket, err)
	}
	return endpoint.New(addr.Address, addr.Name), nil
}

func buildEntity(from, to endpoint.Endpoint, contentType string, body []byte) ([]byte, error) {
	var h message.Header
	h.Set("From", formatAddress(from))
	h.Set("To", formatAddress(to))
	h.Set("X-Mailer", XMailer)
	h.Set("Content-Transfer-Encoding", "base64")
	h.SetContentType(contentType, nil)

	encoded := base64.StdEncoding.EncodeToString(body)
	entity, err := message.New(h, strings.NewReader(wrapBase64(encoded)))
	if err != nil {
		return nil, fmt.Errorf("wire: build entity: %w", err)
	}

	var buf bytes.Buffer
	if err := entity.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("wire: write entity: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapBase64 folds an encoded string onto RFC 2045 76-character lines.
func wrapBase64(s string) string {
	const lineLen = 76
	if len(s) <= lineLen {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += lineLen {
		end := i + lineLen
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
		b.WriteString("\r\n")
	}
	return b.String()
}

func parseEntity(raw []byte, wantContentType string) (from, to endpoint.Endpoint, body []byte, err error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, fmt.Errorf("%w: parse: %v", ErrInvalidPacket, err)
	}

	if entity.Header.Get("X-Mailer") != XMailer {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, fmt.Errorf("%w: unexpected X-Mailer", ErrInvalidPacket)
	}
	ct, _, ctErr := entity.Header.ContentType()
	if ctErr != nil || ct != wantContentType {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, fmt.Errorf("%w: unexpected content type", ErrInvalidPacket)
	}

	from, err = parseAddress(entity.Header.Get("From"))
	if err != nil {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, err
	}
	to, err = parseAddress(entity.Header.Get("To"))
	if err != nil {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, err
	}

	raw64, err := io.ReadAll(entity.Body)
	if err != nil {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, fmt.Errorf("%w: read body: %v", ErrInvalidPacket, err)
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, string(raw64))
	body, err = base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return endpoint.Endpoint{}, endpoint.Endpoint{}, nil, fmt.Errorf("%w: base64: %v", ErrInvalidPacket, err)
	}
	return from, to, body, nil
}

// EncodePlain renders p as a complete RFC 5322 message.
func EncodePlain(p PlainPacket) ([]byte, error) {
	return buildEntity(p.From, p.To, PlainContentType, encodePlainBody(p))
}

// DecodePlain parses raw as a plain packet. It returns ErrInvalidPacket on
// any structural or encoding failure.
func DecodePlain(raw []byte) (PlainPacket, error) {
	from, to, body, err := parseEntity(raw, PlainContentType)
	if err != nil {
		return PlainPacket{}, err
	}
	p, err := decodePlainBody(body)
	if err != nil {
		return PlainPacket{}, err
	}
	p.From, p.To = from, to
	return p, nil
}

// EncodeSecure renders p as a complete RFC 5322 message.
func EncodeSecure(p SecurePacket) ([]byte, error) {
	return buildEntity(p.From, p.To, SecureContentType, encodeSecureBody(p))
}

// DecodeSecure parses raw as a secure packet. Signature verification is
// the caller's responsibility (the ratchet layer owns key material); this
// function only validates structure.
func DecodeSecure(raw []byte) (SecurePacket, error) {
	from, to, body, err := parseEntity(raw, SecureContentType)
	if err != nil {
		return SecurePacket{}, err
	}
	p, err := decodeSecureBody(body)
	if err != nil {
		return SecurePacket{}, err
	}
	p.From, p.To = from, to
	return p, nil
}
