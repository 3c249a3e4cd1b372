package forward

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Target is where a single request is sent.
type Target struct {
	URL          *url.URL // already rewritten
	Proto        string   // transport name in the Factory
	PreserveHost bool
}

// Forwarder issues each request exactly once through a pooled transport.
type Forwarder struct {
	Transports Factory
	Timeout    time.Duration // upstream deadline, 0 disables
	Log        logrus.FieldLogger
}

func NewForwarder(f Factory, timeout time.Duration, log logrus.FieldLogger) *Forwarder {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Forwarder{Transports: f, Timeout: timeout, Log: log}
}

// Forward relays r to target and copies the upstream response to w unchanged
// apart from hop-by-hop headers. On transport failure it writes 502 with the
// error text. It returns the status written.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, target Target) int {
	ctx := r.Context()
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, target.URL.String(), r.Body)
	if err != nil {
		f.Log.WithError(err).WithField("to", target.URL.String()).Error("build upstream request")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return http.StatusBadGateway
	}
	reqUp.Header = OutboundHeader(r)
	reqUp.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		reqUp.Body = http.NoBody
	}
	if target.PreserveHost {
		reqUp.Host = r.Host
	} else {
		reqUp.Host = target.URL.Host
	}

	resUp, err := f.Transports.Get(target.Proto).RoundTrip(reqUp)
	if err != nil {
		err = errors.Wrapf(err, "forward %s %s", r.Method, target.URL.String())
		f.Log.WithError(err).Error("upstream error")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			f.Log.WithError(err).Debug("closing upstream body")
		}
	}(resUp.Body)

	DropHopByHop(resUp.Header)
	copyHeaders(w.Header(), resUp.Header)

	// Announce trailers if any
	if len(resUp.Trailer) > 0 {
		trailerKeys := make([]string, 0, len(resUp.Trailer))
		for k := range resUp.Trailer {
			trailerKeys = append(trailerKeys, k)
		}
		w.Header().Set("Trailer", strings.Join(trailerKeys, ","))
	}

	w.WriteHeader(resUp.StatusCode)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	if _, err := io.Copy(w, resUp.Body); err != nil {
		f.Log.WithError(err).WithField("to", target.URL.String()).Warn("copy upstream body")
	}

	for k, vv := range resUp.Trailer {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	return resUp.StatusCode
}
