// Package upgrade turns an inbound websocket upgrade request into a bridge
// session with the matching upstream.
package upgrade

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fabian4/devproxy/internal/bridge"
	"github.com/fabian4/devproxy/internal/forward"
	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/rewrite"
	"github.com/fabian4/devproxy/internal/wsmsg"
)

const defaultWriteWait = 10 * time.Second

var errNotHijackable = errors.New("response writer does not support hijacking")

type Negotiator struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration // deadline for control frames written to the client
	Log              logrus.FieldLogger
	Metrics          *metrics.Registry

	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewNegotiator(handshakeTimeout time.Duration, log logrus.FieldLogger, m *metrics.Registry) *Negotiator {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Negotiator{
		HandshakeTimeout: handshakeTimeout,
		WriteWait:        defaultWriteWait,
		Log:              log,
		Metrics:          m,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: defaultWriteWait,
			// origin checks belong to the upstream, which sees the forwarded Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close ends every running session with a going-away close frame.
func (n *Negotiator) Close() { n.cancel() }

// Handle is an inbound upgrade request bound to its upstream.
type Handle struct {
	n       *Negotiator
	r       *http.Request
	target  *url.URL
	service string
	log     logrus.FieldLogger
}

// TryUpgrade reports whether r asks for a websocket upgrade. If it does, the
// returned Handle targets the websocket equivalent of target.
func (n *Negotiator) TryUpgrade(r *http.Request, target *url.URL, service string) (*Handle, bool) {
	if !websocket.IsWebSocketUpgrade(r) {
		return nil, false
	}
	wsTarget := rewrite.Rewrite(target, target.Host, rewrite.UpgradeScheme(target.Scheme))
	log := n.Log.WithFields(logrus.Fields{
		"session": uuid.NewRandom().String(),
		"service": service,
		"to":      wsTarget.String(),
	})
	return &Handle{
		n:       n,
		r:       r,
		target:  wsTarget,
		service: service,
		log:     log,
	}, true
}

// Target is the ws:// or wss:// URI the handle dials.
func (h *Handle) Target() *url.URL { return h.target }

// Serve completes both handshakes and relays messages until the session ends.
// The client upgrade is only accepted once the upstream has accepted. It
// returns the status sent to the client.
func (h *Handle) Serve(w http.ResponseWriter) int {
	n := h.n

	if status, err := checkInbound(w, h.r); err != nil {
		h.log.WithError(err).Error("rejecting websocket upgrade")
		n.Metrics.IncHandshakeFailure(h.service, "inbound")
		http.Error(w, err.Error(), status)
		return status
	}

	ctx, cancel := context.WithTimeout(h.r.Context(), n.HandshakeTimeout)
	defer cancel()
	dialer := ws.Dialer{
		Timeout:   n.HandshakeTimeout,
		Header:    ws.HandshakeHeaderHTTP(dialHeader(h.r)),
		Protocols: websocket.Subprotocols(h.r),
	}
	upConn, br, hs, err := dialer.Dial(ctx, h.target.String())
	if err != nil {
		err = errors.Wrapf(err, "dial %s", h.target)
		h.log.WithError(err).Error("upstream websocket handshake failed")
		n.Metrics.IncHandshakeFailure(h.service, "dial")
		w.Header().Set("Connection", "close")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return http.StatusBadGateway
	}

	var respHeader http.Header
	if hs.Protocol != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": {hs.Protocol}}
	}
	clientConn, err := n.upgrader.Upgrade(w, h.r, respHeader)
	if err != nil {
		// the upgrader has already answered the client
		_ = upConn.Close()
		h.log.WithError(err).Error("accepting websocket upgrade failed")
		n.Metrics.IncHandshakeFailure(h.service, "accept")
		return http.StatusBadRequest
	}
	h.log.WithField("subprotocol", hs.Protocol).Info("websocket upgraded")

	n.Metrics.IncActiveSessions(h.service)
	defer n.Metrics.DecActiveSessions(h.service)

	sess := bridge.New(
		bridge.NewClientStream(clientConn, n.WriteWait),
		bridge.NewUpstreamStream(upConn, br),
		h.log,
	)
	sess.OnRelay = func(from bridge.Side, m wsmsg.Message) {
		n.Metrics.IncMessage(from.String(), m.Kind.String())
	}
	res := sess.Run(n.ctx)
	n.Metrics.IncSession(h.service, res.Reason.String())
	return http.StatusSwitchingProtocols
}

func checkInbound(w http.ResponseWriter, r *http.Request) (int, error) {
	if r.Method != http.MethodGet {
		return http.StatusMethodNotAllowed, errors.Errorf("websocket upgrade requires GET, got %s", r.Method)
	}
	if v := r.Header.Get("Sec-Websocket-Version"); v != "13" {
		return http.StatusBadRequest, errors.Errorf("unsupported websocket version %q", v)
	}
	if r.Header.Get("Sec-Websocket-Key") == "" {
		return http.StatusBadRequest, errors.New("missing Sec-WebSocket-Key")
	}
	if _, ok := w.(http.Hijacker); !ok {
		return http.StatusInternalServerError, errNotHijackable
	}
	return 0, nil
}

// dialHeader keeps the end-to-end request headers. The handshake fields are
// generated by the dialer.
func dialHeader(r *http.Request) http.Header {
	h := forward.OutboundHeader(r)
	for k := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), "Sec-Websocket-") {
			delete(h, k)
		}
	}
	return h
}
