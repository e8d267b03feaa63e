// Package webhook posts alerts as JSON to user-configured URLs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pagerbuddy/internal/transport"

	"github.com/google/uuid"
)

const (
	HeaderDelivery  = "X-PagerBuddy-Delivery"
	HeaderSignature = "X-PagerBuddy-Signature"
)

type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Secret signs the body with HMAC-SHA256 when set.
	Secret string
}

// Payload is the JSON body receivers get.
type Payload struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Text   string            `json:"text"`
	Silent bool              `json:"silent"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sent_at"`
}

type Channel struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

func New(cfg Config) *Channel {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pagerbuddy-webhook"
	}
	return &Channel{cfg: cfg, client: transport.NewHTTPClient(cfg.Timeout), now: time.Now}
}

func (c *Channel) Name() string { return "webhook" }

// Send posts one payload. The delivery id doubles as the message reference.
func (c *Channel) Send(ctx context.Context, to transport.Target, text string, opt transport.SendOptions) (transport.MessageRef, error) {
	u, err := url.Parse(to.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return transport.MessageRef{}, transport.NewMalformed(errInvalidURL(to.Address))
	}
	p := Payload{
		ID:     uuid.NewString(),
		Title:  opt.Title,
		Text:   text,
		Silent: opt.Silent,
		Data:   opt.Data,
		SentAt: c.now().UTC(),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return transport.MessageRef{}, transport.NewMalformed(err)
	}

	h := http.Header{}
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set(HeaderDelivery, p.ID)
	if c.cfg.Secret != "" {
		h.Set(HeaderSignature, "sha256="+Sign(c.cfg.Secret, body))
	}
	if _, err := transport.PostJSON(ctx, c.client, u.String(), h, json.RawMessage(body)); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{Target: to, ID: p.ID}, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

type errInvalidURL string

func (e errInvalidURL) Error() string { return "webhook: invalid url " + strconv.Quote(string(e)) }
