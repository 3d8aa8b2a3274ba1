// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/types"
)

// Exchanges declared by Setup.
const (
	ExRequests = "pr" // provider requests, published by the provider and consumed by the host
	ExCalls    = "hc" // host calls, published by the host and consumed by the provider
	ExLogs     = "pl" // provider log lines, consumed by the host
)

// Amqp implements a connection to a broker and a channel for publishing.
type Amqp struct {
	conn *amqp.Connection
	mu   sync.Mutex // serialises publishing on ch
	ch   *amqp.Channel
	tag  string
	log  zerolog.Logger
}

// New instantiates a new amqp broker.
func New(uri string, log zerolog.Logger) (msg.MsgBroker, error) {
	r := Amqp{tag: uuid.NewString()[:8], log: log}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, fmt.Errorf("cannot dial amqp broker: %w", err)
	}
	r.log.Info().Str("tag", r.tag).Msg("connected to amqp broker")

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - pr ("provider requests"): the provider publishes outbound messages to this exchange
//
// - hc ("host calls"): the host publishes resolve, reject, initialize and event calls to this exchange
//
// - pl ("provider logs"): the provider forwards its log lines to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	for _, ex := range []string{ExRequests, ExCalls, ExLogs} {
		if err = channel.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("cannot declare exchange %s: %w", ex, err)
		}
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn().Err(err).Msg("error closing amqp.Channel")
		}
		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// PostMessage publishes a serialized outbound message to the "pr" exchange. The routing key is <chainId>.<method>.
func (r *Amqp) PostMessage(m string) error {
	key := "request"

	var om types.OutboundMessage
	if json.Unmarshal([]byte(m), &om) == nil && om.Method != "" {
		key = om.ChainID + "." + om.Method
	}

	return r.publish(ExRequests, key, amqp.Table{"x-request-id": om.ID}, []byte(m))
}

// SendLog publishes a log line to the "pl" exchange.
func (r *Amqp) SendLog(line string) error {
	return r.publish(ExLogs, "log", nil, []byte(line))
}

// SendCall publishes a host call to the "hc" exchange. The routing key is <op>.<id>.
func (r *Amqp) SendCall(c types.HostCall) error {
	jsonDoc, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return r.publish(ExCalls, c.Op+"."+c.ID, amqp.Table{"x-call-op": c.Op}, jsonDoc)
}

func (r *Amqp) publish(ex, key string, headers amqp.Table, body []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     headers,
		Body:        body,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish(ex, key, false, false, m); err != nil {
		err = fmt.Errorf("cannot publish to exchange %s: %w", ex, err)
	}

	return
}

// GetCalls consumes host calls from the "hc" exchange pushing them to the returned channel. The Mutex pointer is
// provided to ensure the consumed message has been fully dealt with by the management function, so the message
// consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetCalls(mut *sync.Mutex) (<-chan types.HostCall, <-chan error, error) {
	msgs, err := r.consume(ExCalls, "provider")
	if err != nil {
		return nil, nil, err
	}
	// define channels to return
	calls := make(chan types.HostCall)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(calls)
		for m := range msgs {
			var c types.HostCall
			if err := json.Unmarshal(m.Body, &c); err != nil {
				errors <- err
				_ = m.Nack(false, false)

				continue
			}
			calls <- c
			mut.Lock() // wait for provider to finish processing the call
			_ = m.Ack(false)
		}
	}()

	return calls, errors, nil
}

// GetRequests consumes provider requests from the "pr" exchange pushing them to the returned channel. The Mutex
// pointer is provided to ensure the consumed message has been fully dealt with by the management function, so the
// message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetRequests(mut *sync.Mutex) (<-chan types.OutboundMessage, <-chan error, error) {
	msgs, err := r.consume(ExRequests, "host")
	if err != nil {
		return nil, nil, err
	}
	// define channels to return
	reqs := make(chan types.OutboundMessage)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(reqs)
		for m := range msgs {
			var om types.OutboundMessage
			if err := json.Unmarshal(m.Body, &om); err != nil {
				errors <- err
				_ = m.Nack(false, false)

				continue
			}
			reqs <- om
			mut.Lock() // wait for host to finish processing the request
			_ = m.Ack(false)
		}
	}()

	return reqs, errors, nil
}

// GetLogs consumes provider log lines from the "pl" exchange pushing them to the returned channel. Like GetCalls, a
// line is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetLogs(mut *sync.Mutex) (<-chan string, error) {
	msgs, err := r.consume(ExLogs, "host")
	if err != nil {
		return nil, err
	}

	lines := make(chan string)

	go func() {
		defer close(lines)
		for m := range msgs {
			lines <- string(m.Body)
			mut.Lock() // wait for host to finish logging the line
			_ = m.Ack(false)
		}
	}()

	return lines, nil
}

// consume declares the queue named after ex, binds it to every routing key and starts consuming on a new channel.
func (r *Amqp) consume(ex, side string) (<-chan amqp.Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	// declare queue
	if _, err = ch.QueueDeclare(ex, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("cannot declare queue %s: %w", ex, err)
	}
	// bind queue to exchange
	if err = ch.QueueBind(ex, "#", ex, false, nil); err != nil {
		return nil, fmt.Errorf("cannot bind queue %s: %w", ex, err)
	}
	// create channel for receiving messages
	msgs, err := ch.Consume(ex, side+"-"+r.tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot consume queue %s: %w", ex, err)
	}
	r.log.Info().Str("queue", ex).Str("consumer", side+"-"+r.tag).Msg("consuming")

	return msgs, nil
}
