// Package push sends notifications to mobile devices through an FCM-style
// HTTP endpoint.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pagerbuddy/internal/transport"
)

const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

type Config struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
	// TTL bounds how long the push service keeps an undelivered message.
	TTL time.Duration
}

type message struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	TimeToLive   int               `json:"time_to_live,omitempty"`
	Notification *notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

type Channel struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Channel, error) {
	if strings.TrimSpace(cfg.ServerKey) == "" {
		return nil, errors.New("push: server key is empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &Channel{cfg: cfg, client: transport.NewHTTPClient(cfg.Timeout)}, nil
}

func (c *Channel) Name() string { return "push" }

// Send notifies one device token. Silent messages are data-only so the app
// decides how to surface them; the data carries silent=true.
func (c *Channel) Send(ctx context.Context, to transport.Target, text string, opt transport.SendOptions) (transport.MessageRef, error) {
	if strings.TrimSpace(to.Address) == "" {
		return transport.MessageRef{}, transport.NewMalformed(errors.New("push: empty device token"))
	}
	m := message{
		To:       to.Address,
		Priority: "high",
		Data:     map[string]string{"silent": strconv.FormatBool(opt.Silent), "body": text},
	}
	if c.cfg.TTL > 0 {
		m.TimeToLive = int(c.cfg.TTL / time.Second)
	}
	if opt.Title != "" {
		m.Data["title"] = opt.Title
	}
	for k, v := range opt.Data {
		m.Data[k] = v
	}
	if !opt.Silent {
		m.Notification = &notification{Title: opt.Title, Body: text, Sound: "default"}
	}

	h := http.Header{}
	h.Set("Authorization", "key="+c.cfg.ServerKey)
	body, err := transport.PostJSON(ctx, c.client, c.cfg.Endpoint, h, m)
	if err != nil {
		return transport.MessageRef{}, err
	}

	var res result
	if err := json.Unmarshal(body, &res); err != nil {
		return transport.MessageRef{}, transport.NewServer(fmt.Errorf("push: decode response: %w", err))
	}
	if len(res.Results) == 0 {
		if res.Failure > 0 {
			return transport.MessageRef{}, transport.NewServer(errors.New("push: failure without result"))
		}
		return transport.MessageRef{Target: to}, nil
	}
	r := res.Results[0]
	if r.Error != "" {
		return transport.MessageRef{}, classify(r.Error)
	}
	return transport.MessageRef{Target: to, ID: r.MessageID}, nil
}

// classify maps per-message FCM error codes.
func classify(code string) error {
	err := fmt.Errorf("push: %s", code)
	switch code {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId", "MissingRegistration":
		return transport.NewForbidden(err)
	case "MessageRateExceeded", "DeviceMessageRateExceeded", "TopicsMessageRateExceeded":
		return transport.NewFlood(0, err)
	case "Unavailable", "InternalServerError":
		return transport.NewServer(err)
	case "MessageTooBig", "InvalidDataKey", "InvalidTtl", "InvalidPackageName":
		return transport.NewMalformed(err)
	}
	return err
}
