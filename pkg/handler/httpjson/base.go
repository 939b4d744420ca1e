// Package httpjson implements the HTTP/JSON buffered handler shared by
// the Bosun, DataDog, and SignalFx backends: each supplies its own
// per-class framing (preamble/postamble/endpoint) and reading
// serialization, and shares this package's gzip-streaming sender.
package httpjson

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// Framing supplies the per-payload-class request shape: which
// endpoint/method to use and the constant bytes that wrap a detached,
// already-trimmed sequence.
type Framing interface {
	// Endpoint returns the request URL and HTTP method for class, or
	// ok=false if this backend never sends that class (e.g. SignalFx
	// metadata, or a disabled Bosun cumulative-counter endpoint).
	Endpoint(class metrics.PayloadClass) (url, method string, ok bool)
	Preamble(class metrics.PayloadClass) []byte
	Postamble(class metrics.PayloadClass) []byte
	// Gzip reports whether requests for class should be gzip-compressed.
	Gzip(class metrics.PayloadClass) bool
}

// AuthDecorator attaches backend-specific auth (headers or query
// parameters) to an outgoing request.
type AuthDecorator func(req *http.Request)

// Sender is the handler.Sender implementation shared by every HTTP/JSON
// backend: it wraps a prepared sequence with Framing's preamble and
// postamble, optionally gzips the body via a streaming pipe so the full
// compressed payload is never materialized, and classifies any
// non-2xx response as a *handler.TransportError.
type Sender struct {
	Client  *http.Client
	Framing Framing
	Auth    AuthDecorator
}

// NewSender builds a Sender with its own *http.Client (30-second
// timeout), shared by every request this Sender makes.
func NewSender(framing Framing, auth AuthDecorator) *Sender {
	return &Sender{Client: &http.Client{Timeout: 30 * time.Second}, Framing: framing, Auth: auth}
}

// Send implements handler.Sender. A class with no configured endpoint
// is silently dropped (e.g. a disabled Bosun external-counter class).
func (s *Sender) Send(ctx context.Context, class metrics.PayloadClass, seq []byte) (int, error) {
	url, method, ok := s.Framing.Endpoint(class)
	if !ok {
		return 0, nil
	}
	preamble := s.Framing.Preamble(class)
	postamble := s.Framing.Postamble(class)
	useGzip := s.Framing.Gzip(class)
	total := len(preamble) + len(seq) + len(postamble)

	pr, pw := io.Pipe()
	go streamBody(pw, preamble, seq, postamble, useGzip)

	req, err := http.NewRequestWithContext(ctx, method, url, pr)
	if err != nil {
		return 0, &handler.TransportError{Class: class, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if useGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.Auth != nil {
		s.Auth(req)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, &handler.TransportError{Class: class, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &handler.TransportError{Class: class, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return total, nil
}

// streamBody writes preamble ++ seq ++ postamble into pw, optionally
// through a gzip.Writer, so the HTTP transport reads a body that is
// never fully buffered in memory.
func streamBody(pw *io.PipeWriter, preamble, seq, postamble []byte, useGzip bool) {
	var w io.Writer = pw
	var gz *gzip.Writer
	if useGzip {
		gz = gzip.NewWriter(pw)
		w = gz
	}
	_, err := w.Write(preamble)
	if err == nil {
		_, err = w.Write(seq)
	}
	if err == nil {
		_, err = w.Write(postamble)
	}
	if gz != nil {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}
	pw.CloseWithError(err)
}

// commaTrimmer implements handler.Serializer's PrepareSequence for
// every backend in this package: readings are comma-separated, so a
// detached chunk may begin or end mid-separator.
func commaTrimmer(seq []byte) []byte {
	start, end := 0, len(seq)
	for start < end && seq[start] == ',' {
		start++
	}
	for end > start && seq[end-1] == ',' {
		end--
	}
	return seq[start:end]
}

func epochSeconds(t time.Time) int64 { return t.Unix() }

func jsonEscape(s string) string {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func tagsJSON(tags metrics.TagSet) string {
	var b []byte
	b = append(b, '{')
	first := true
	tags.Each(func(name, value string) {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, '"')
		b = append(b, jsonEscape(name)...)
		b = append(b, `":"`...)
		b = append(b, jsonEscape(value)...)
		b = append(b, '"')
	})
	b = append(b, '}')
	return string(b)
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
