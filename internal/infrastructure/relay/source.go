// Package relay reads role events from Nostr relays.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"sync"
	"syscall"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	"nests/pkg/nostr"
	"nests/pkg/utils"

	"github.com/gorilla/websocket"
	gonostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// ErrRelayNotAllowed is returned for room relays the dial policy refuses.
var ErrRelayNotAllowed = errors.New("relay not allowed")

// DialPolicy restricts the relays a room owner can make the server dial.
// Operator fallback relays are always trusted.
type DialPolicy struct {
	// AllowInsecure permits ws:// room relays.
	AllowInsecure bool
	// AllowPrivate permits room relays on loopback, private and link-local
	// addresses.
	AllowPrivate bool
}

// Source is a ports.EventSource backed by the relays a room was created
// with plus a fixed fallback list. Relays are queried concurrently; one
// reachable relay is enough.
type Source struct {
	directory ports.RoomDirectory
	fallback  []string
	policy    DialPolicy
	trusted   *websocket.Dialer
	guarded   *websocket.Dialer
	timeout   time.Duration
	maxAge    time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewSource(directory ports.RoomDirectory, fallback []string, policy DialPolicy, timeout, maxAge time.Duration, logger *zap.SugaredLogger) *Source {
	s := &Source{
		directory: directory,
		fallback:  fallback,
		policy:    policy,
		timeout:   timeout,
		maxAge:    maxAge,
		logger:    logger,
		now:       time.Now,
	}
	s.trusted = &websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}
	guard := &net.Dialer{Timeout: timeout, Control: s.checkAddress}
	s.guarded = &websocket.Dialer{
		NetDialContext:   guard.DialContext,
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}
	return s
}

var _ ports.EventSource = (*Source)(nil)

func (s *Source) QueryRoleEvents(ctx context.Context, room domain.RoomID, kinds ...domain.EventKind) ([]domain.RoleEvent, error) {
	r, err := s.directory.Get(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("look up room relays: %w", err)
	}

	relays := append(slices.Clone(r.Relays), s.fallback...)
	slices.Sort(relays)
	relays = slices.Compact(relays)
	if len(relays) == 0 {
		return nil, errors.New("no relays to query")
	}

	filter := gonostr.Filter{
		Kinds: domain.RoleEventKinds(),
		Tags:  gonostr.TagMap{"a": {nostr.RoomAddress(string(r.Owner), string(r.ID)).String()}},
	}
	if s.maxAge > 0 {
		since := gonostr.Timestamp(s.now().Add(-s.maxAge).Unix())
		filter.Since = &since
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		relay  string
		events []*nostr.Event
		err    error
	}
	results := make(chan result, len(relays))
	var wg sync.WaitGroup
	for _, relayURL := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			events, err := s.query(ctx, relayURL, filter)
			results <- result{relay: relayURL, events: events, err: err}
		}(relayURL)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{})
	var out []domain.RoleEvent
	var failures []error
	for res := range results {
		if res.err != nil {
			s.logger.Warnw("relay query failed", "relay", res.relay, "room_id", room, "error", res.err)
			failures = append(failures, fmt.Errorf("%s: %w", res.relay, res.err))
			continue
		}
		for _, evt := range res.events {
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			seen[evt.ID] = struct{}{}

			roleEvt, ok := s.accept(r, evt)
			if !ok {
				continue
			}
			if len(kinds) > 0 && !slices.Contains(kinds, roleEvt.Kind) {
				continue
			}
			out = append(out, roleEvt)
		}
	}

	if len(failures) == len(relays) {
		return nil, errors.Join(failures...)
	}
	return out, nil
}

// accept verifies and maps evt, dropping anything a relay should not have
// sent us and anything its author was not allowed to publish.
func (s *Source) accept(room *domain.Room, evt *nostr.Event) (domain.RoleEvent, bool) {
	if err := nostr.Verify(evt); err != nil {
		s.logger.Debugw("dropping event with bad signature", "id", utils.ShortKey(evt.ID), "error", err)
		return domain.RoleEvent{}, false
	}
	roleEvt, err := domain.ParseRoleEvent(evt)
	if err != nil {
		s.logger.Debugw("dropping unrecognised role event", "id", utils.ShortKey(evt.ID), "error", err)
		return domain.RoleEvent{}, false
	}
	if roleEvt.RoomRef != room.ID {
		return domain.RoleEvent{}, false
	}
	if err := roleEvt.AuthorizedIn(room); err != nil {
		s.logger.Debugw("dropping unauthorized role event",
			"id", utils.ShortKey(evt.ID),
			"actor", utils.ShortKey(string(roleEvt.Actor)),
			"error", err,
		)
		return domain.RoleEvent{}, false
	}
	return roleEvt, true
}

// dialerFor picks the dialer for relayURL, refusing room relays the
// policy does not allow.
func (s *Source) dialerFor(relayURL string) (*websocket.Dialer, error) {
	if slices.Contains(s.fallback, relayURL) {
		return s.trusted, nil
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayNotAllowed, err)
	}
	switch u.Scheme {
	case "wss":
	case "ws":
		if !s.policy.AllowInsecure {
			return nil, fmt.Errorf("%w: %s is not wss", ErrRelayNotAllowed, relayURL)
		}
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrRelayNotAllowed, u.Scheme)
	}
	return s.guarded, nil
}

// checkAddress runs after name resolution, so hostnames pointing at
// internal addresses are caught too.
func (s *Source) checkAddress(network, address string, _ syscall.RawConn) error {
	if s.policy.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayNotAllowed, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s is not a public address", ErrRelayNotAllowed, host)
	}
	return nil
}

// query runs one REQ against relayURL and collects events until EOSE.
func (s *Source) query(ctx context.Context, relayURL string, filter gonostr.Filter) ([]*nostr.Event, error) {
	dialer, err := s.dialerFor(relayURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	// Unblock the read loop if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subID := "nests-" + utils.GenerateRequestID()
	req := gonostr.ReqEnvelope{SubscriptionID: subID, Filters: gonostr.Filters{filter}}
	if err := writeEnvelope(conn, &req); err != nil {
		return nil, fmt.Errorf("send REQ: %w", err)
	}

	var events []*nostr.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		switch env := gonostr.ParseMessage(data).(type) {
		case *gonostr.EventEnvelope:
			if env.SubscriptionID != nil && *env.SubscriptionID != subID {
				continue
			}
			evt := env.Event
			events = append(events, &evt)
		case *gonostr.EOSEEnvelope:
			closeEnv := gonostr.CloseEnvelope(subID)
			_ = writeEnvelope(conn, &closeEnv)
			return events, nil
		case *gonostr.ClosedEnvelope:
			return events, fmt.Errorf("relay closed subscription: %s", env.Reason)
		case *gonostr.NoticeEnvelope:
			s.logger.Debugw("relay notice", "relay", relayURL, "notice", string(*env))
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env gonostr.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}
