// Package feed publishes the messages of running races on NATS so other
// processes can follow a race without being its client.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
)

const DefaultSubject = "lapsim.races"

var (
	ErrMissingConn   = errors.New("nats connection required")
	ErrInvalidRaceID = errors.New("invalid race id")
)

type (
	Feed struct {
		conn    *nats.Conn
		subject string
		log     *log.Logger
	}
	Option func(*Feed)

	// Envelope is a message received by Watch.
	Envelope struct {
		RaceID string
		Type   stream.MessageType
		Data   []byte // the JSON encoded message
	}

	natsSink struct {
		feed   *Feed
		raceID string
	}
)

func WithSubject(subject string) Option {
	return func(f *Feed) {
		f.subject = subject
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Feed) {
		f.log = l
	}
}

func New(conn *nats.Conn, opts ...Option) (*Feed, error) {
	if conn == nil {
		return nil, ErrMissingConn
	}
	ret := &Feed{
		conn:    conn,
		subject: DefaultSubject,
		log:     log.Default().Named("race.feed"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret, nil
}

// Sink returns a sink publishing to <subject>.<raceID>.<message type>
func (f *Feed) Sink(raceID string) (stream.Sink, error) {
	if err := validateToken(raceID); err != nil {
		return nil, err
	}
	return &natsSink{feed: f, raceID: raceID}, nil
}

func (s *natsSink) Send(_ context.Context, msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal %s message: %w", msg.Type(), err)
	}
	subj := s.feed.subjectFor(s.raceID, string(msg.Type()))
	s.feed.log.Debug("publishing", log.String("subject", subj))
	return s.feed.conn.Publish(subj, data)
}

// Watch delivers the messages of raceID (or of all races if raceID is empty)
// to the returned channel until ctx is done.
//
//nolint:whitespace // can't make both editor and linter happy
func (f *Feed) Watch(ctx context.Context, raceID string) (
	<-chan Envelope, error,
) {
	token := "*"
	if raceID != "" {
		if err := validateToken(raceID); err != nil {
			return nil, err
		}
		token = raceID
	}
	msgChan := make(chan *nats.Msg, 64)
	sub, err := f.conn.ChanSubscribe(f.subjectFor(token, "*"), msgChan)
	if err != nil {
		return nil, err
	}
	ret := make(chan Envelope)
	go func() {
		defer close(ret)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				f.log.Debug("error unsubscribing",
					log.String("sub", sub.Subject), log.ErrorField(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgChan:
				env, ok := f.toEnvelope(msg)
				if !ok {
					continue
				}
				select {
				case ret <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ret, nil
}

func (f *Feed) toEnvelope(msg *nats.Msg) (Envelope, bool) {
	parts := strings.Split(strings.TrimPrefix(msg.Subject, f.subject+"."), ".")
	if len(parts) != 2 {
		f.log.Warn("unexpected subject", log.String("subject", msg.Subject))
		return Envelope{}, false
	}
	return Envelope{
		RaceID: parts[0],
		Type:   stream.MessageType(parts[1]),
		Data:   msg.Data,
	}, true
}

func (f *Feed) subjectFor(raceID, msgType string) string {
	return fmt.Sprintf("%s.%s.%s", f.subject, raceID, msgType)
}

func validateToken(s string) error {
	if s == "" || strings.ContainsAny(s, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRaceID, s)
	}
	return nil
}
