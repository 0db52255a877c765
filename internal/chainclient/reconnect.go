package chainclient

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halvard/chainsentinel/internal/events"
)

// readLoop continuously reads envelopes from the connection until it
// closes or Stop is called, then hands off to reconnectLoop — the same
// read/reconnect handoff as the teacher's MarketStatusWebSocket.
func (c *WebSocketChainClient) readLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("chain feed read failed")
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			c.mu.RLock()
			stopped := c.stopped
			c.mu.RUnlock()
			if !stopped {
				go c.reconnectLoop()
			}
			return
		}

		if err := c.handleMessage(message); err != nil {
			c.log.Error().Err(err).Msg("failed to handle chain feed message")
		}
	}
}

// reconnectLoop retries the dial with exponential backoff, capped at
// maxReconnectDelay, until it succeeds or Stop is called. Once the gap
// since the last good message exceeds degradedAfter it publishes one
// WARNING incident (spec.md §4.1: "after a configured sustained outage
// the observer emits a degraded signal that the supervisor escalates to
// a warning incident"); it does not repeat the incident on every failed
// attempt afterward.
func (c *WebSocketChainClient) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		attempt++
		delay := backoffDelay(attempt)

		c.mu.RLock()
		sinceGood := time.Since(c.lastGoodAt)
		alreadyDegraded := c.degraded
		c.mu.RUnlock()

		if sinceGood > degradedAfter && !alreadyDegraded {
			c.mu.Lock()
			c.degraded = true
			c.mu.Unlock()
			if c.bus != nil {
				c.bus.Publish(events.LevelWarning, "chainclient", fmt.Sprintf("chain feed degraded: no successful message in %s", sinceGood), nil)
			}
		}

		if attempt <= loudReconnectAttempt {
			c.log.Error().Int("attempt", attempt).Dur("delay", delay).Msg("chain feed reconnect attempt")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("chain feed reconnect attempt (sustained outage)")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("chain feed reconnect failed")
			continue
		}

		c.mu.Lock()
		c.degraded = false
		c.mu.Unlock()
		c.log.Info().Int("attempt", attempt).Msg("chain feed reconnected")
		go c.readLoop()
		return
	}
}

// backoffDelay is capped exponential backoff: base * 2^(attempt-1),
// clamped to maxReconnectDelay (spec.md §4.1: "retried with capped
// exponential back-off").
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

func (c *WebSocketChainClient) writeEnvelope(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chainclient: marshal %s: %w", msgType, err)
	}
	envelope := []interface{}{msgType, json.RawMessage(data)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("chainclient: not connected")
	}
	framed, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("chainclient: marshal envelope: %w", err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, framed)
}
