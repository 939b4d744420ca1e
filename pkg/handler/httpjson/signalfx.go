package httpjson

import (
	"fmt"
	"net/http"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// SignalFxOptions configures the SignalFx datapoint endpoint and
// optional access token.
type SignalFxOptions struct {
	BaseURI     string
	AccessToken string
}

type signalFxFraming struct{ opts SignalFxOptions }

// Endpoint: SignalFx has no metadata endpoint in this spec; all three
// metric payload classes post to the same datapoint URL but each
// carries its own preamble/postamble.
func (f signalFxFraming) Endpoint(class metrics.PayloadClass) (string, string, bool) {
	switch class {
	case metrics.PayloadClassCounter, metrics.PayloadClassCumulativeCounter, metrics.PayloadClassGauge:
		return f.opts.BaseURI + "/v2/datapoint", http.MethodPost, true
	}
	return "", "", false
}

func (signalFxFraming) Preamble(class metrics.PayloadClass) []byte {
	switch class {
	case metrics.PayloadClassCounter:
		return []byte(`{"counter":[`)
	case metrics.PayloadClassCumulativeCounter:
		return []byte(`{"cumulative_counter":[`)
	case metrics.PayloadClassGauge:
		return []byte(`{"gauge":[`)
	}
	return nil
}

func (signalFxFraming) Postamble(metrics.PayloadClass) []byte { return []byte(`]}`) }
func (signalFxFraming) Gzip(metrics.PayloadClass) bool         { return true }

// signalFxAuth attaches the X-SF-TOKEN header when an access token is
// configured.
func signalFxAuth(token string) AuthDecorator {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("X-SF-TOKEN", token)
		}
	}
}

// SignalFxSerializer renders every payload class SignalFx accepts:
// Counter, CumulativeCounter, and Gauge are all serialized normally; a
// variant seen elsewhere that short-circuits Counter/Gauge to a no-op
// is treated as a bug and not reproduced here.
type SignalFxSerializer struct{}

// NewSignalFxSerializer builds a SignalFxSerializer.
func NewSignalFxSerializer() *SignalFxSerializer { return &SignalFxSerializer{} }

func (SignalFxSerializer) SerializeMetric(w *handler.BufferWriter, r metrics.Reading) (int, error) {
	obj := fmt.Sprintf(`{"metric":"%s","value":%s,"dimensions":%s,"timestamp":%d},`,
		jsonEscape(r.NameWithSuffix()), formatValue(r.Value()), tagsJSON(r.Tags()), epochSeconds(r.Timestamp())*1000)
	return w.Write([]byte(obj))
}

// SerializeMetadata is a no-op: SignalFx has no metadata endpoint.
func (SignalFxSerializer) SerializeMetadata(*handler.BufferWriter, metrics.PayloadClass, []metrics.Metadata) (int, error) {
	return 0, nil
}

func (SignalFxSerializer) PrepareSequence(seq []byte, class metrics.PayloadClass) []byte {
	return commaTrimmer(seq)
}

// NewSignalFxHandler wires a SignalFxSerializer and an HTTP Sender
// into a BufferedHandler. Metadata is never flushed for SignalFx since
// serializeMetadata always writes zero bytes.
func NewSignalFxHandler(opts SignalFxOptions, hopts handler.Options) *handler.BufferedHandler {
	serializer := NewSignalFxSerializer()
	sender := NewSender(signalFxFraming{opts: opts}, signalFxAuth(opts.AccessToken))
	if hopts.Name == "" {
		hopts.Name = "signalfx"
	}
	return handler.New(serializer, sender, hopts)
}
