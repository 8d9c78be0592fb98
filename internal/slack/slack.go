// Package slack holds the slash-command types and the response_url client.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Command is the parsed application/x-www-form-urlencoded slash-command body.
type Command struct {
	TeamID      string
	UserID      string
	UserName    string
	Text        string
	ResponseURL string
}

// ParseCommand extracts the fields the gateway cares about.
func ParseCommand(form url.Values) Command {
	return Command{
		TeamID:      form.Get("team_id"),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		Text:        strings.TrimSpace(form.Get("text")),
		ResponseURL: form.Get("response_url"),
	}
}

// SubKind classifies what the user asked the slash command to do.
type SubKind int

const (
	// SubNarrative is the default: the text is a decision narrative.
	SubNarrative SubKind = iota
	SubLink
	SubHelp
)

// Subcommand is a classified slash-command text.
type Subcommand struct {
	Kind SubKind
	// Arg carries the link code for SubLink.
	Arg string
}

// ParseSubcommand classifies the command text. "link <CODE>" and "help" are
// reserved words; everything else is treated as a narrative.
func ParseSubcommand(text string) Subcommand {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Subcommand{Kind: SubHelp}
	}
	switch strings.ToLower(fields[0]) {
	case "link":
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		return Subcommand{Kind: SubLink, Arg: arg}
	case "help":
		return Subcommand{Kind: SubHelp}
	default:
		return Subcommand{Kind: SubNarrative}
	}
}

// Message is a Slack message payload. The gateway only ever sends ephemeral
// messages (visible to the invoking user alone).
type Message struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Ephemeral builds an ephemeral message.
func Ephemeral(text string) Message {
	return Message{ResponseType: "ephemeral", Text: text}
}

// Client pushes delayed responses to a command's response_url.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Respond POSTs msg to responseURL. Slack keeps the URL valid for 30
// minutes; failures here are best-effort and propagate only for logging.
func (c *Client) Respond(ctx context.Context, responseURL string, msg Message) error {
	if responseURL == "" {
		return fmt.Errorf("response_url is empty")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack response request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post slack response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack response_url returned status %d", resp.StatusCode)
	}
	return nil
}
