package receivers

import (
	"context"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/pebbe/zmq4"
	"github.com/tjstebbing/conductor"
)

// ZMQPublisher republishes bus messages on a ZMQ PUB socket so
// external integrations can subscribe to payment events by topic
// (the topic frame is the MessageType).
type ZMQPublisher struct {
	Rec  chan rail.Message
	sock *zmq4.Socket
}

// interface guard ensures ZMQPublisher implements rail.MessageSubscriber
var _ rail.MessageSubscriber = ZMQPublisher{}

func NewZMQPublisher(bind string) (ZMQPublisher, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return ZMQPublisher{}, err
	}
	err = sock.Bind(bind)
	if err != nil {
		return ZMQPublisher{}, err
	}
	return ZMQPublisher{
		Rec:  make(chan rail.Message, 1000),
		sock: sock,
	}, nil
}

func (p ZMQPublisher) GetChan() chan rail.Message {
	return p.Rec
}

// Implements conductor.Service
func (p ZMQPublisher) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			case <-stop:
				close(p.Rec)
				p.sock.Close()
				close(stopped)
				return
			case msg := <-p.Rec:
				// topic frame, id frame, payload frame
				p.sock.SendMessage(string(msg.MessageType), msg.ID, msg.Message)
			}
		}
	}()
	return nil
}

// SetupZMQ starts the publisher when a bind address is configured.
func SetupZMQ(cond *conductor.Conductor, bus rail.MessageBus, conf rail.Config) error {
	if conf.ZMQ.Bind == "" {
		return nil
	}
	pub, err := NewZMQPublisher(conf.ZMQ.Bind)
	if err != nil {
		return err
	}
	cond.Service("ZMQ Publisher", pub)
	bus.Register(pub, rail.MSG_ALL)
	return nil
}
