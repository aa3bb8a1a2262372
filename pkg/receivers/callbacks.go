package receivers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/tjstebbing/conductor"
)

func NewCallbackSender(config rail.CallbackConfig, bus rail.MessageBus) CallbackSender {
	return CallbackSender{
		make(chan rail.Message, 1000),
		config.Path,
		config.HMACSecret,
		bus,
	}
}

type CallbackSender struct {
	// incoming msgs
	Rec        chan rail.Message
	Path       string
	HMACSecret string
	Bus        rail.MessageBus
}

// Implements rail.MessageSubscriber
func (s CallbackSender) GetChan() chan rail.Message {
	return s.Rec
}

// Implements conductor.Service
func (s CallbackSender) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				close(s.Rec)
				close(stopped)
				return
			case msg := <-s.Rec:
				err := postWithRetry(s, msg)
				if err != nil {
					s.Bus.Send(rail.MSG_SYS, fmt.Sprintf("CallbackSender: %v", msg))
				}
			}
		}
	}()
	return nil
}

// Reads config and sets up any configured callbacks
func SetupCallbacks(cond *conductor.Conductor, bus rail.MessageBus, conf rail.Config) {
	for name, c := range conf.Callbacks {
		s := NewCallbackSender(c, bus)
		cond.Service(fmt.Sprintf("Callback sender for: %s", c.Path), s)
		bus.Register(s, messageTypes(name, c.Types)...)
	}
}

func generateSha256HMAC(timestamp string, payload []byte, secret string) string {
	if secret == "" {
		return ""
	}

	dataToSign := []byte(fmt.Sprintf("%s.%s", timestamp, string(payload)))
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(dataToSign)

	return hex.EncodeToString(h.Sum(nil))
}

func postWithRetry(sender CallbackSender, msg rail.Message) error {
	path := sender.Path
	bus := sender.Bus

	maxRetries := 6
	initialDelay := 1 * time.Second
	maxDelay := 32 * time.Second

	objJSON, err := json.Marshal(msg)
	if err != nil {
		bus.Send(rail.MSG_SYS, fmt.Sprintf("CallbackSender: Failed to serialize object to JSON: %v", err))
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}

	go func() {
		retryCount := 0
		delay := initialDelay

		for retryCount <= maxRetries {
			req, err := http.NewRequest("POST", path, bytes.NewBuffer(objJSON))
			if err != nil {
				bus.Send(rail.MSG_SYS, fmt.Sprintf("CallbackSender: Failed to create request: %v", err))
				return
			}
			req.Header.Set("Content-Type", "application/json")
			if sender.HMACSecret != "" {
				timestampStr := fmt.Sprintf("%d", time.Now().Unix())
				signature := generateSha256HMAC(timestampStr, objJSON, sender.HMACSecret)
				req.Header.Set("X-Railpay-Signature", fmt.Sprintf("sha256=%s", signature))
				req.Header.Set("X-Railpay-Timestamp", timestampStr)
			}

			resp, err := client.Do(req)
			if err == nil && resp.StatusCode == 200 {
				resp.Body.Close()
				return
			}
			if resp != nil {
				resp.Body.Close()
			}

			bus.Send(rail.MSG_SYS, fmt.Sprintf("CallbackSender: Request failed (attempt %d/%d). Retrying in %v. Error: %v", retryCount+1, maxRetries+1, delay, err))
			time.Sleep(delay)

			// Increase delay exponentially, with a maximum limit
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}

			retryCount++
		}

		bus.Send(rail.MSG_SYS, fmt.Sprintf("CallbackSender: Request failed after maximum retries. Aborting: %s", path))
	}()

	return nil
}
