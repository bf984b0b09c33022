package telnet

import (
	"strings"
	"time"
)

// Send queues payload for the sender goroutine without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	msg := append([]byte(nil), payload...)
	select {
	case c.sendCh <- msg:
		return nil
	default:
		c.dropCount.Add(1)
		return errQueueFull
	}
}

// Transport labels the subscriber for stats.
func (c *Client) Transport() string { return TransportTelnet }

// Address is the remote peer address.
func (c *Client) Address() string { return c.address }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// sender drains the queue until the session ends. A write failure closes the
// connection so the read loop exits and the client unregisters.
func (c *Client) sender() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.sendCh:
			if err := c.writeLine(string(payload)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// writeLine writes message followed by CRLF with a bounded deadline.
func (c *Client) writeLine(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultSendDeadline)); err != nil {
		return err
	}
	defer c.conn.SetWriteDeadline(time.Time{})

	message = strings.TrimRight(message, "\r\n")
	if _, err := c.writer.WriteString(message); err != nil {
		return err
	}
	if _, err := c.writer.WriteString("\r\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

// ReadLine reads one line, consuming telnet IAC sequences and dropping
// non-printable bytes. CR, LF, or CRLF end the line. Lines longer than maxLen
// return errLineTooLong after the rest of the line is discarded.
func (c *Client) ReadLine(maxLen int) (string, error) {
	var line []byte
	overflow := false
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if c.skipNextEOL {
			c.skipNextEOL = false
			if b == '\n' || b == 0x00 {
				continue
			}
		}
		if b == IAC {
			if err := c.consumeIACSequence(); err != nil {
				return "", err
			}
			continue
		}
		if b == '\r' {
			c.skipNextEOL = true
			break
		}
		if b == '\n' {
			break
		}
		switch b {
		case 0x08, 0x7f: // BS or DEL
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			continue
		}
		if b < 0x20 || b > 0x7e {
			continue
		}
		if len(line) >= maxLen {
			overflow = true
			continue
		}
		line = append(line, b)
	}
	if overflow {
		return "", errLineTooLong
	}
	return string(line), nil
}

// consumeIACSequence drains a single telnet command sequence.
func (c *Client) consumeIACSequence() error {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case IAC:
		return nil
	case DO, DONT, WILL, WONT:
		_, err = c.reader.ReadByte()
		return err
	case SB:
		return c.consumeSubnegotiation()
	default:
		return nil
	}
}

// consumeSubnegotiation drains bytes until IAC SE, honoring IAC escapes.
func (c *Client) consumeSubnegotiation() error {
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return err
		}
		if b != IAC {
			continue
		}
		next, err := c.reader.ReadByte()
		if err != nil {
			return err
		}
		if next == SE {
			return nil
		}
	}
}
