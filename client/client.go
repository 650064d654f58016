// Package client connects to the broadcast endpoint, sends commands and
// delivers every broadcast event to a handler in arrival order.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"event-api/domain"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	defaultSendQueueSize  = 64
	writeTimeout          = 10 * time.Second
)

type Option func(*Client)

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

func WithSendQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sendQueueSize = n
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a single connection to the broadcast endpoint. Results of sent
// commands arrive as broadcast events, together with everyone else's.
type Client struct {
	url            string
	connectTimeout time.Duration
	sendQueueSize  int
	logger         *log.Logger
	dir            *Directory

	mu      sync.Mutex
	ws      *websocket.Conn
	out     chan []byte
	done    chan struct{}
	handler func(domain.Event)
	wg      sync.WaitGroup
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		connectTimeout: DefaultConnectTimeout,
		sendQueueSize:  defaultSendQueueSize,
		logger:         log.StandardLogger(),
		dir:            NewDirectory(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers fn to receive every event after the directory has been
// updated. fn runs on the reader goroutine and must not call Disconnect.
func (c *Client) OnEvent(fn func(domain.Event)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Client) Directory() *Directory { return c.dir }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Connect dials the endpoint. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return nil
	}

	c.logger.Infof("Connecting to WebSocket server at %s", c.url)
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	ws, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrConnectTimeout
		}
		return &TransportError{Op: "connect", Err: err}
	}

	c.ws = ws
	c.out = make(chan []byte, c.sendQueueSize)
	c.done = make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(ws, c.done)
	go c.writeLoop(ws, c.out, c.done)
	c.logger.Info("Connected to WebSocket server")
	return nil
}

// Send queues a command without waiting for it to be written or answered.
func (c *Client) Send(t domain.CommandType, payload any) error {
	cmd, err := domain.NewCommand(t, payload)
	if err != nil {
		return err
	}
	frame, err := domain.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) GetAll() error {
	return c.Send(domain.GetAllUsers, nil)
}

func (c *Client) Get(id int64) error {
	return c.Send(domain.GetUser, domain.UserIDData{ID: &id})
}

func (c *Client) Create(name, email string) error {
	return c.Send(domain.CreateUser, domain.NewUserData(name, email))
}

func (c *Client) Update(id int64, name, email string) error {
	return c.Send(domain.UpdateUser, domain.UpdateUserData{ID: &id, User: domain.NewUserData(name, email)})
}

func (c *Client) Delete(id int64) error {
	return c.Send(domain.DeleteUser, domain.UserIDData{ID: &id})
}

// Disconnect closes the connection and waits for the reader and writer to
// stop. Calling it again, or after the server went away, is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return nil
	}
	c.ws = nil
	close(c.done)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := ws.Close()
	c.wg.Wait()
	c.logger.Info("Disconnected from WebSocket server")
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// lost drops ws after a transport failure unless Disconnect got there first.
func (c *Client) lost(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	close(c.done)
	c.mu.Unlock()

	_ = ws.Close()
	c.logger.WithError(err).Warn("Disconnected from WebSocket server")
}

func (c *Client) readLoop(ws *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.lost(ws, err)
			}
			return
		}

		ev, err := domain.DecodeEvent(frame)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownEventType) {
				c.logger.Warnf("Unknown event type: %s", eventTypeOf(frame))
			} else {
				c.logger.WithError(err).Error("failed to decode event")
			}
			continue
		}
		c.dir.Apply(ev)

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(ev)
		}
	}
}

func (c *Client) writeLoop(ws *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case frame := <-out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.lost(ws, &TransportError{Op: "write", Err: err})
				return
			}
		case <-done:
			return
		}
	}
}

func eventTypeOf(frame []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := sonic.ConfigStd.Unmarshal(frame, &head); err != nil {
		return ""
	}
	return head.Type
}
