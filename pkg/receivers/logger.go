// Package receivers contains the outbound destinations for bus
// messages: rotating log files, HTTP callbacks and ZMQ publishing.
package receivers

import (
	"context"
	"fmt"
	"log"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/tjstebbing/conductor"
	"gopkg.in/natefinch/lumberjack.v2"
)

type MessageLogger struct {
	// MessageLogger receives rail.Message via Rec
	Rec chan rail.Message
	// and logs them via Log
	Log *log.Logger
}

// Implements rail.MessageSubscriber
func (l MessageLogger) GetChan() chan rail.Message {
	return l.Rec
}

// Implements conductor.Service
func (l MessageLogger) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				close(l.Rec)
				close(stopped)
				return
			case msg := <-l.Rec:
				l.Log.Printf("%s (%s): %s\n",
					msg.MessageType,
					msg.ID,
					msg.Message)
			}
		}
	}()
	return nil
}

func NewMessageLogger(path string) MessageLogger {
	// create a MessageLogger
	l := MessageLogger{
		make(chan rail.Message, 1000),
		log.New(&lumberjack.Logger{
			Filename: path,
			Compress: true,
		}, "", log.Ltime|log.Lmicroseconds),
	}
	return l
}

// Reads config and sets up any configured loggers
func SetupLoggers(cond *conductor.Conductor, bus rail.MessageBus, conf rail.Config) {
	for name, c := range conf.Loggers {
		l := NewMessageLogger(c.Path)
		cond.Service(fmt.Sprintf("Logger %s", c.Path), l)
		bus.Register(l, messageTypes(name, c.Types)...)
	}
}

// messageTypes resolves config strings to MessageTypes, warning about
// anything unrecognized.
func messageTypes(name string, types []string) []rail.MessageType {
	out := []rail.MessageType{}
	for _, t := range types {
		match := false
		for _, x := range rail.MSG_TYPES {
			if t == string(x) {
				match = true
				out = append(out, x)
			}
		}
		if !match {
			fmt.Printf("⚠️  %s: ignoring invalid message type: %s\n", name, t)
		}
	}
	return out
}
