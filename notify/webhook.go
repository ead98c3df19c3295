// Package notify delivers big-trade summaries to wework-style bot webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// Session answers whether a market is in session. Extra webhooks only
// receive a copy while the market is open.
type Session interface {
	IsOpen(t time.Time) bool
}

// WeWorkNotifier posts text messages to the primary webhook and, during
// market hours, to any extra webhooks. Delivery is fire-and-forget: failures
// are logged and returned so the caller can count them, never retried here.
type WeWorkNotifier struct {
	cfg      config.NotifyConfig
	client   *http.Client
	sessions map[string]Session
	log      *logger.Entry
}

// NewWeWorkNotifier builds a notifier. sessions maps market names to their
// trading-hours checkers; a market without an entry never fans out to the
// extra webhooks.
func NewWeWorkNotifier(cfg config.NotifyConfig, sessions map[string]Session, log *logger.Log) *WeWorkNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeWorkNotifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		sessions: sessions,
		log:      log.WithComponent("notify"),
	}
}

type textPayload struct {
	Content             string   `json:"content"`
	MentionedList       []string `json:"mentioned_list,omitempty"`
	MentionedMobileList []string `json:"mentioned_mobile_list,omitempty"`
}

type messagePayload struct {
	MsgType string      `json:"msgtype"`
	Text    textPayload `json:"text"`
}

type webhookReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NotifyTrades renders the grouped summary for one scan's flagged trades and
// posts it. The returned error covers the primary webhook only; extras are
// best effort.
func (n *WeWorkNotifier) NotifyTrades(ctx context.Context, market string, events []models.TradeEvent) error {
	if n.cfg.WebhookURL == "" || len(events) == 0 {
		return nil
	}

	text := Summary(market, time.Now(), events, n.cfg.QualifiedTurnover)

	err := n.post(ctx, n.cfg.WebhookURL, text)
	if err != nil {
		n.log.WithError(err).WithFields(logger.Fields{"market": market}).Error("primary webhook delivery failed")
	}

	if len(n.cfg.ExtraWebhookURLs) > 0 && n.marketOpen(market) {
		for _, url := range n.cfg.ExtraWebhookURLs {
			if extraErr := n.post(ctx, url, text); extraErr != nil {
				n.log.WithError(extraErr).WithFields(logger.Fields{"market": market}).Warn("extra webhook delivery failed")
			}
		}
	}

	return err
}

// SendText posts a plain message to the primary webhook. Used for startup and
// shutdown notices.
func (n *WeWorkNotifier) SendText(ctx context.Context, content string) error {
	if n.cfg.WebhookURL == "" {
		return nil
	}
	return n.post(ctx, n.cfg.WebhookURL, content)
}

func (n *WeWorkNotifier) marketOpen(market string) bool {
	sess, ok := n.sessions[market]
	return ok && sess.IsOpen(time.Now())
}

func (n *WeWorkNotifier) post(ctx context.Context, url, content string) error {
	payload := messagePayload{
		MsgType: "text",
		Text: textPayload{
			Content:             content,
			MentionedList:       n.cfg.MentionedList,
			MentionedMobileList: n.cfg.MentionedMobileList,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read webhook response: %w", err)
	}
	var reply webhookReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("webhook rejected message: %d %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}
