// Package network wraps the websocket transport. Frames are JSON texts with
// a "type" discriminator; outbound writes go through a bounded per-connection
// queue so one slow client cannot stall the server.
package network

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/validate"
)

// ErrMalformedFrame marks a frame that failed to decode; the connection
// itself is still usable.
var ErrMalformedFrame = errors.New("malformed frame")

// SendQueueSize bounds the outbound queue. Overflow drops the oldest
// message.
const SendQueueSize = 100

// writeWait bounds a single websocket write so a stalled peer cannot pin
// the writer goroutine.
const writeWait = 10 * time.Second

type Connection interface {
	Send(v interface{}) error
	ReadFrame() (*models.Frame, error)
	Close() error
	RemoteAddr() net.Addr
}

// WSConnection implements Connection over a gorilla websocket. A single
// writer goroutine drains the queue, keeping websocket writes serialized.
type WSConnection struct {
	conn       *websocket.Conn
	sendCh     chan []byte
	closeCh    chan []byte
	done       chan struct{}
	writerDone chan struct{}

	closeOnce sync.Once
	onDrop    func()
}

// NewWSConnection wraps conn and starts the writer. onDrop is invoked once
// per message lost to queue overflow; it may be nil.
func NewWSConnection(conn *websocket.Conn, onDrop func()) *WSConnection {
	c := &WSConnection{
		conn:       conn,
		sendCh:     make(chan []byte, SendQueueSize),
		closeCh:    make(chan []byte, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		onDrop:     onDrop,
	}
	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine that writes to the websocket. Close
// frames arrive on closeCh and are checked first so a queued backlog
// cannot starve a graceful shutdown.
func (c *WSConnection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case msg := <-c.closeCh:
			c.writeClose(msg)
			return
		default:
		}
		select {
		case msg := <-c.closeCh:
			c.writeClose(msg)
			return
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSConnection) writeClose(msg []byte) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
}

// Send enqueues a JSON frame. When the queue is full the oldest queued
// message is discarded to make room.
func (c *WSConnection) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
	}

	// Queue full: drop the oldest entry, then retry once.
	select {
	case <-c.sendCh:
		if c.onDrop != nil {
			c.onDrop()
		}
	default:
	}
	select {
	case c.sendCh <- data:
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
	}
	return nil
}

// ReadFrame blocks for the next inbound frame. Oversized or undecodable
// payloads return ErrMalformedFrame without tearing the connection down.
func (c *WSConnection) ReadFrame() (*models.Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	if err := validate.PayloadSize(data); err != nil {
		return nil, ErrMalformedFrame
	}

	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		return nil, ErrMalformedFrame
	}
	return &frame, nil
}

func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// CloseWithFrame hands a websocket close frame to the writer goroutine and
// waits for it to exit before tearing down, so the frame never races a
// queued write. Used on graceful shutdown.
func (c *WSConnection) CloseWithFrame(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	select {
	case c.closeCh <- msg:
	default:
	}
	<-c.writerDone
	return c.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
