package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"codetalk/cmd/internal/auth/authz"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/ids"
	"codetalk/cmd/internal/realtime/eventbus"
	v1 "codetalk/shared/contracts/realtime/v1"
)

type connState uint8

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateActive
	stateError
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "CONNECTING"
	case stateAuthenticating:
		return "AUTHENTICATING"
	case stateActive:
		return "ACTIVE"
	case stateError:
		return "ERROR"
	default:
		return "CLOSED"
	}
}

type activeSub struct {
	name   string
	cancel context.CancelFunc
}

type connection struct {
	g           *Gateway
	ws          *websocket.Conn
	id          string
	cookieToken string
	limiter     *rateLimiter
	send        chan v1.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     connState
	claims    *session.Claims
	subs      map[string]*activeSub
	initTimer *time.Timer

	closeOnce sync.Once
}

func newConnection(g *Gateway, ws *websocket.Conn, cookieToken string) *connection {
	return &connection{
		g:           g,
		ws:          ws,
		id:          ids.New(time.Now()),
		cookieToken: cookieToken,
		limiter:     newRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow),
		send:        make(chan v1.Envelope, g.cfg.SendQueueSize),
		subs:        make(map[string]*activeSub),
	}
}

func (c *connection) run(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	log := c.g.log.With("conn_id", c.id)
	log.Info("ws.connect")

	c.mu.Lock()
	c.initTimer = time.AfterFunc(c.g.cfg.InitTimeout, func() {
		if c.currentState() < stateActive {
			log.Info("ws.init.timeout")
			c.shutdown(statusInitTimeout, "Connection initialisation timeout")
		}
	})
	c.mu.Unlock()

	c.wg.Add(2)
	go c.writeLoop()
	go c.heartbeatLoop()

	reason := c.readLoop()

	c.mu.Lock()
	c.initTimer.Stop()
	for id, s := range c.subs {
		s.cancel()
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.cancel()
	c.shutdown(websocket.StatusNormalClosure, "")
	c.wg.Wait()
	c.setState(stateClosed)
	log.Info("ws.disconnect", "reason", reason)
}

func (c *connection) readLoop() string {
	for {
		readCtx, cancel := c.ctx, context.CancelFunc(func() {})
		if idle := c.g.cfg.ReadIdleTimeout; idle > 0 && c.currentState() == stateActive {
			readCtx, cancel = context.WithTimeout(c.ctx, idle)
		}
		env, err := readEnvelope(readCtx, c.ws)
		cancel()
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				c.sendError("", v1.CodeProtocol, "invalid message")
				continue
			case readErrClose:
				return "closed_by_peer"
			case readErrCtxDone:
				return "context_done"
			case readErrConnClosed:
				return "conn_closed"
			default:
				c.setState(stateError)
				c.g.log.Warn("ws.read.fail", "conn_id", c.id, "err", err)
				return "read_error"
			}
		}

		if !c.limiter.Allow(time.Now()) {
			c.writeNow(errorEnvelope(env.ID, v1.CodeRateLimitExceeded, "too many messages"))
			c.shutdown(websocket.StatusPolicyViolation, "rate limit exceeded")
			return "rate_limited"
		}
		if err := env.Validate(); err != nil {
			c.sendError(env.ID, v1.CodeProtocol, err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeConnectionInit:
			if c.currentState() != stateConnecting {
				c.shutdown(statusTooManyInit, "Too many initialisation requests")
				return "duplicate_init"
			}
			c.handleInit(env)
		case v1.TypePing:
			c.enqueue(v1.Envelope{Type: v1.TypePong})
		case v1.TypePong:
		case v1.TypeSubscribe:
			if c.currentState() != stateActive {
				c.shutdown(statusUnauthorizedOp, "Unauthorized")
				return "subscribe_before_ack"
			}
			c.handleSubscribe(env)
		case v1.TypeComplete:
			c.complete(env.ID)
		default:
			c.sendError(env.ID, v1.CodeProtocol, "unexpected message type: "+env.Type)
		}
	}
}

func (c *connection) handleInit(env v1.Envelope) {
	c.setState(stateAuthenticating)

	var p v1.ConnectionInitPayload
	_ = env.DecodePayload(&p)

	token := c.cookieToken
	if token == "" {
		token = strings.TrimSpace(p.XToken)
	}
	if token == "" {
		token = session.BearerToken(p.Authorization)
	}

	var claims *session.Claims
	if token != "" {
		cl, err := c.g.auth.VerifyToken(token, false)
		switch {
		case err == nil:
			claims = cl
		case errors.Is(err, session.ErrTokenExpired):
			c.g.metrics.AuthFailure("ws_expired")
			c.g.log.Info("ws.auth.expired", "conn_id", c.id)
		default:
			c.g.metrics.AuthFailure("ws_invalid")
			c.g.log.Info("ws.auth.invalid", "conn_id", c.id, "err", err)
		}
	}

	c.mu.Lock()
	c.claims = claims
	c.state = stateActive
	c.initTimer.Stop()
	c.mu.Unlock()

	ack, _ := v1.New(v1.TypeConnectionAck, "", v1.ConnectionAckPayload{
		ConnectionID:  c.id,
		Authenticated: claims != nil,
	})
	c.enqueue(ack)
	c.g.log.Info("ws.ack", "conn_id", c.id, "authenticated", claims != nil)
}

func (c *connection) handleSubscribe(env v1.Envelope) {
	var p v1.SubscribePayload
	if err := env.DecodePayload(&p); err != nil || p.Subscription == "" {
		c.sendError(env.ID, v1.CodeBadUserInput, "subscription name required")
		return
	}

	spec, ok := c.g.registry.Lookup(p.Subscription)
	if !ok {
		c.g.metrics.WSSubscription(p.Subscription, "unknown")
		c.sendError(env.ID, v1.CodeBadUserInput, "unknown subscription: "+p.Subscription)
		return
	}

	c.mu.Lock()
	claims := c.claims
	_, dup := c.subs[env.ID]
	full := len(c.subs) >= c.g.cfg.MaxSubscriptions
	c.mu.Unlock()
	if dup {
		c.sendError(env.ID, v1.CodeProtocol, "subscriber for "+env.ID+" already exists")
		return
	}
	if full {
		c.sendError(env.ID, v1.CodeRateLimitExceeded, "too many subscriptions")
		return
	}

	if d := authz.Check(c.ctx, authz.Input{Claims: claims}, spec.Guards...); !d.Allowed {
		c.g.metrics.WSSubscription(spec.Name, "denied")
		code := v1.CodeForbidden
		if d.Kind == authz.KindUnauthenticated {
			code = v1.CodeUnauthenticated
		}
		c.sendError(env.ID, code, d.Reason)
		return
	}

	filter := Filter(PassThrough)
	if spec.Prepare != nil {
		f, err := spec.Prepare(c.ctx, Request{ConnectionID: c.id, Claims: claims, Variables: p.Variables})
		if err != nil {
			c.g.metrics.WSSubscription(spec.Name, "invalid")
			c.sendError(env.ID, v1.CodeBadUserInput, err.Error())
			return
		}
		if f != nil {
			filter = f
		}
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	sub, err := c.g.bus.Subscribe(subCtx, spec.Topic)
	if err != nil {
		cancel()
		c.g.metrics.WSSubscription(spec.Name, "error")
		c.g.log.Error("ws.subscribe.fail", "conn_id", c.id, "topic", spec.Topic, "err", err)
		c.sendError(env.ID, v1.CodeBrokerError, "subscription unavailable")
		return
	}

	as := &activeSub{name: spec.Name, cancel: cancel}
	c.mu.Lock()
	c.subs[env.ID] = as
	c.mu.Unlock()
	c.g.metrics.WSSubscription(spec.Name, "opened")
	c.g.log.Debug("ws.subscribe", "conn_id", c.id, "id", env.ID, "subscription", spec.Name)

	c.wg.Add(1)
	go c.pump(subCtx, env.ID, as, sub, filter)
}

func (c *connection) pump(ctx context.Context, id string, as *activeSub, sub *eventbus.Subscription, filter Filter) {
	defer c.wg.Done()
	defer sub.Close()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			break
		}
		payload, ok := filter(ev)
		if !ok {
			continue
		}
		env := v1.Envelope{Type: v1.TypeNext, ID: id}
		env.Payload, err = json.Marshal(v1.NextPayload{Data: map[string]json.RawMessage{as.name: payload}})
		if err != nil {
			c.g.log.Error("ws.next.encode", "conn_id", c.id, "err", err)
			continue
		}
		if !c.enqueue(env) {
			c.g.metrics.BusDropped(ev.Topic, "ws_queue_full")
		}
	}

	c.mu.Lock()
	if c.subs[id] == as {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	// The bus ended the stream while the client still wanted it.
	if ctx.Err() == nil {
		c.g.log.Info("ws.subscription.ended", "conn_id", c.id, "id", id, "err", sub.Err())
		c.enqueue(v1.Envelope{Type: v1.TypeComplete, ID: id})
	}
	as.cancel()
}

func (c *connection) complete(id string) {
	c.mu.Lock()
	as, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if ok {
		as.cancel()
		c.g.metrics.WSSubscription(as.name, "completed")
	}
}

func (c *connection) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.send:
			if err := writeEnvelope(c.ctx, c.ws, env, c.g.cfg.WriteTimeout); err != nil {
				c.g.log.Info("ws.write.fail", "conn_id", c.id, "err", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *connection) heartbeatLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.HeartbeatTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			failures++
			if failures >= maxPingFailures {
				c.g.log.Info("ws.heartbeat.timeout", "conn_id", c.id)
				c.shutdown(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}

// enqueue never blocks; a full queue drops the frame.
func (c *connection) enqueue(env v1.Envelope) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		c.g.log.Warn("ws.send.drop", "conn_id", c.id, "type", env.Type)
		return false
	}
}

func (c *connection) writeNow(env v1.Envelope) {
	_ = writeEnvelope(c.ctx, c.ws, env, c.g.cfg.WriteTimeout)
}

func (c *connection) sendError(id, code, msg string) {
	c.enqueue(errorEnvelope(id, code, msg))
}

func errorEnvelope(id, code, msg string) v1.Envelope {
	env, _ := v1.New(v1.TypeError, id, v1.ErrorPayload{Code: code, Message: msg})
	return env
}

func (c *connection) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *connection) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(code, reason)
	})
}

func (c *connection) forceClose() {
	_ = c.ws.CloseNow()
}
