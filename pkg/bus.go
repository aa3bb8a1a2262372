package rail

/*
The message subsystem gives event-based access to railpay's processes
for integration purposes.

A simple internal 'message bus' is passed around as a singleton, with
an internal goroutine and a 'Send' method for publishing messages.

Outbound destinations are created from config; messages get routed to
external services (log-files, HTTP callbacks, ZMQ) by MessageSubscribers
registered with the bus along with the MessageTypes they want.
*/

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

type MessageType string

// These consts are used to pub and sub to messages
const (
	MSG_ALL    MessageType = "ALL"    // Do not use for sending
	MSG_SYS    MessageType = "SYS"    // System messages
	MSG_RATE   MessageType = "RATE"   // Exchange-rate events
	MSG_FUNNEL MessageType = "FUNNEL" // Payment funnel events
	MSG_FIAT   MessageType = "FIAT"   // Fiat request events
	MSG_ROUTE  MessageType = "ROUTE"  // Routing decisions
)

// slice of all msg types for config funcs lookup
var MSG_TYPES []MessageType = []MessageType{MSG_ALL,
	MSG_SYS, MSG_RATE, MSG_FUNNEL, MSG_FIAT, MSG_ROUTE}

// MessageSubscribers are things that subscribe to the bus and handle
// messages, ie: log files, HTTP callbacks, ZMQ publishers etc.
type MessageSubscriber interface {
	GetChan() chan Message
}

// Created by the bus, wraps anything sent with Send
type Message struct {
	MessageType MessageType
	Message     []byte
	ID          string // optional
}

type Subscription struct {
	dest  MessageSubscriber
	types []MessageType
}

func NewMessageBus() MessageBus {
	return MessageBus{
		register:  make(chan Subscription, 10),
		receivers: make(map[*Subscription]bool),
		inbound:   make(chan Message, 100),
	}
}

type MessageBus struct {
	// Registered MessageSubscribers.
	receivers map[*Subscription]bool

	// Register requests for MessageSubscribers.
	register chan Subscription

	// Messages from Send(), destined for MessageSubscribers
	inbound chan Message
}

// Send a message to the bus with a specific MessageType.
// msg can be anything JSON serialisable; it is turned into a Message
// and delivered to any interested MessageSubscribers.
func (b MessageBus) Send(t MessageType, msg interface{}, msgID ...string) error {
	j, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if len(msgID) == 0 {
		b.inbound <- Message{t, j, generateID()}
	} else {
		b.inbound <- Message{t, j, msgID[0]}
	}
	return nil
}

func (b MessageBus) Register(m MessageSubscriber, types ...MessageType) {
	b.register <- Subscription{m, types}
}

// Implements conductor.Service
func (b MessageBus) Run(started, stopped chan bool, stop chan context.Context) error {

	go func() {
		stopBus := make(chan bool)
		go func() {
			for {
				select {
				case <-stopBus:
					return
				case sub := <-b.register:
					b.receivers[&sub] = true
				case message := <-b.inbound:
					for sub := range b.receivers {
						// check if this receiver wants this message type
						cont := false
						for _, t := range (*sub).types {
							if t == MSG_ALL {
								cont = true
								break
							}
							if t == message.MessageType {
								cont = true
							}
						}
						if !cont {
							continue
						}

						// send the message to the receiver
						select {
						case (*sub).dest.GetChan() <- message:
						default:
							// receiver is not keeping up, drop the sub
							close((*sub).dest.GetChan())
							delete(b.receivers, sub)
						}
					}
				}
			}
		}()

		started <- true
		<-stop
		close(stopBus)
		stopped <- true
	}()
	return nil
}

// create a short random ID for msgs that have none
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:8]
}

// NewRequestID creates a random identifier for fiat payment requests.
func NewRequestID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
