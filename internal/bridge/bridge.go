// Package bridge relays websocket messages between an accepted client
// connection and a dialed upstream connection.
package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fabian4/devproxy/internal/wsmsg"
)

type Side uint8

const (
	Client Side = iota + 1
	Upstream
)

func (s Side) String() string {
	switch s {
	case Client:
		return "client"
	case Upstream:
		return "upstream"
	default:
		return "none"
	}
}

func (s Side) other() Side {
	if s == Client {
		return Upstream
	}
	return Client
}

// Reason tells why a session ended.
type Reason uint8

const (
	ClientClosed Reason = iota + 1
	UpstreamClosed
	Failed
	Shutdown
)

func (r Reason) String() string {
	switch r {
	case ClientClosed:
		return "client_closed"
	case UpstreamClosed:
		return "upstream_closed"
	case Failed:
		return "error"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type Result struct {
	Reason  Reason
	From    Side  // side whose event ended the session
	Err     error // set when Reason is Failed
	Relayed int
}

// Session owns both streams from construction until Run returns.
type Session struct {
	client   Stream
	upstream Stream
	log      logrus.FieldLogger

	// OnRelay, when set, is called after each message is delivered.
	OnRelay func(from Side, m wsmsg.Message)
}

func New(client, upstream Stream, log logrus.FieldLogger) *Session {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Session{client: client, upstream: upstream, log: log}
}

type event struct {
	from Side
	msg  wsmsg.Message
	err  error
}

// Run relays messages until either side closes or fails, a send fails, or ctx
// is cancelled. Both streams are closed before Run returns.
func (s *Session) Run(ctx context.Context) Result {
	events := make(chan event)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(Client, s.client, events, done, &wg)
	go pump(Upstream, s.upstream, events, done, &wg)

	res := s.relay(ctx, events)

	close(done)
	_ = s.client.Close()
	_ = s.upstream.Close()
	wg.Wait()

	s.logResult(res)
	return res
}

func pump(from Side, src Stream, events chan<- event, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		m, err := src.Receive()
		select {
		case events <- event{from: from, msg: m, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) stream(side Side) Stream {
	if side == Client {
		return s.client
	}
	return s.upstream
}

func (s *Session) relay(ctx context.Context, events <-chan event) Result {
	relayed := 0
	for {
		select {
		case <-ctx.Done():
			goingAway := wsmsg.NewClose(&wsmsg.CloseFrame{Code: 1001, Reason: "proxy shutting down"})
			_ = s.client.Send(goingAway)
			_ = s.upstream.Send(goingAway)
			return Result{Reason: Shutdown, Relayed: relayed}

		case ev := <-events:
			if ev.err != nil {
				if errors.Is(ev.err, io.EOF) {
					return Result{Reason: closedBy(ev.from), From: ev.from, Relayed: relayed}
				}
				return Result{Reason: Failed, From: ev.from, Err: errors.Wrapf(ev.err, "receive from %s", ev.from), Relayed: relayed}
			}

			s.log.WithFields(logrus.Fields{"from": ev.from.String(), "message": ev.msg.String()}).Debug("websocket message")
			if err := s.stream(ev.from.other()).Send(ev.msg); err != nil {
				return Result{Reason: Failed, From: ev.from, Err: errors.Wrapf(err, "send to %s", ev.from.other()), Relayed: relayed}
			}
			relayed++
			if s.OnRelay != nil {
				s.OnRelay(ev.from, ev.msg)
			}
			// No close handshake: the peer has the close frame, the session ends now.
			if ev.msg.Kind == wsmsg.Close {
				return Result{Reason: closedBy(ev.from), From: ev.from, Relayed: relayed}
			}
		}
	}
}

func closedBy(side Side) Reason {
	if side == Client {
		return ClientClosed
	}
	return UpstreamClosed
}

func (s *Session) logResult(res Result) {
	entry := s.log.WithFields(logrus.Fields{
		"reason":  res.Reason.String(),
		"from":    res.From.String(),
		"relayed": res.Relayed,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Error("websocket session failed")
		return
	}
	entry.Info("websocket session closed")
}
