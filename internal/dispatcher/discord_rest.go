package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valyala/fasthttp"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const defaultRequestTimeout = 5 * time.Second

// Platform is the guild-side surface the executor acts on.
type Platform interface {
	Ban(ctx context.Context, guildID, userID util.Snowflake, reason string) error
	Unban(ctx context.Context, guildID, userID util.Snowflake, reason string) error
	Kick(ctx context.Context, guildID, userID util.Snowflake, reason string) error
	Timeout(ctx context.Context, guildID, userID util.Snowflake, until time.Time, reason string) error
	RemoveTimeout(ctx context.Context, guildID, userID util.Snowflake, reason string) error
	DeleteMessage(ctx context.Context, channelID, messageID util.Snowflake, reason string) error
	SendDM(ctx context.Context, userID util.Snowflake, content string) error
}

// ErrUnknownEntity is wrapped by permanent errors for 404 responses. Callers
// undoing or deleting something treat it as already done.
var ErrUnknownEntity = errors.New("unknown entity")

// RESTClient speaks the Discord HTTP API over a fasthttp pool.
type RESTClient struct {
	baseURL string
	token   string
	pool    *HTTPPool
	limits  *RateLimitMonitor
}

var _ Platform = (*RESTClient)(nil)

func NewRESTClient(baseURL, token string, pool *HTTPPool, limits *RateLimitMonitor) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		pool:    pool,
		limits:  limits,
	}
}

func (c *RESTClient) Ban(ctx context.Context, guildID, userID util.Snowflake, reason string) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", guildID, userID)
	return c.do(ctx, models.ActionBan, "ban", guildID, fasthttp.MethodPut, path, reason, map[string]any{"delete_message_seconds": 0}, nil)
}

func (c *RESTClient) Unban(ctx context.Context, guildID, userID util.Snowflake, reason string) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", guildID, userID)
	return c.do(ctx, models.ActionBan, "ban", guildID, fasthttp.MethodDelete, path, reason, nil, nil)
}

func (c *RESTClient) Kick(ctx context.Context, guildID, userID util.Snowflake, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	return c.do(ctx, models.ActionKick, "member", guildID, fasthttp.MethodDelete, path, reason, nil, nil)
}

func (c *RESTClient) Timeout(ctx context.Context, guildID, userID util.Snowflake, until time.Time, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	body := map[string]any{"communication_disabled_until": until.UTC().Format(time.RFC3339)}
	return c.do(ctx, models.ActionTimeout, "member", guildID, fasthttp.MethodPatch, path, reason, body, nil)
}

func (c *RESTClient) RemoveTimeout(ctx context.Context, guildID, userID util.Snowflake, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	body := map[string]any{"communication_disabled_until": nil}
	return c.do(ctx, models.ActionTimeout, "member", guildID, fasthttp.MethodPatch, path, reason, body, nil)
}

func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID util.Snowflake, reason string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return c.do(ctx, models.ActionDelete, "message", channelID, fasthttp.MethodDelete, path, reason, nil, nil)
}

// SendDM opens (or reuses) the DM channel with the user and posts content.
func (c *RESTClient) SendDM(ctx context.Context, userID util.Snowflake, content string) error {
	var channel struct {
		ID util.Snowflake `json:"id"`
	}
	if err := c.do(ctx, models.ActionWarn, "dm", 0, fasthttp.MethodPost, "/users/@me/channels", "", map[string]any{"recipient_id": userID}, &channel); err != nil {
		return err
	}
	path := fmt.Sprintf("/channels/%s/messages", channel.ID)
	return c.do(ctx, models.ActionWarn, "message", channel.ID, fasthttp.MethodPost, path, "", map[string]any{"content": content}, nil)
}

func (c *RESTClient) do(ctx context.Context, action models.ActionKind, route string, major util.Snowflake, method, path, reason string, body, out any) error {
	if err := c.limits.Wait(ctx, route, major); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bot "+c.token)
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(truncate(reason, 512)))
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", route, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > defaultRequestTimeout {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	if err := c.pool.GetClient().DoDeadline(req, resp, deadline); err != nil {
		return &models.EnforcementError{Action: action, Transient: true, Err: err}
	}

	status := resp.StatusCode()
	retryAfter := parseRetryAfter(resp)
	c.limits.Update(resp, route, major, retryAfter)

	if status >= 200 && status < 300 {
		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode %s response: %w", route, err)
			}
		}
		return nil
	}
	return classifyStatus(action, status, retryAfter, resp.Body())
}

// classifyStatus maps a non-2xx response onto the transient/permanent split.
func classifyStatus(action models.ActionKind, status int, retryAfter time.Duration, body []byte) error {
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = fasthttp.StatusMessage(status)
	}

	ee := &models.EnforcementError{Action: action, StatusCode: status, RetryAfter: retryAfter, Err: errors.New(msg)}
	switch {
	case status == fasthttp.StatusTooManyRequests, status >= 500:
		ee.Transient = true
	case status == fasthttp.StatusNotFound:
		ee.Err = fmt.Errorf("%w: %s", ErrUnknownEntity, msg)
	}
	return ee
}

func parseRetryAfter(resp *fasthttp.Response) time.Duration {
	if v := resp.Header.Peek("Retry-After"); len(v) > 0 {
		if secs, err := strconv.ParseFloat(string(v), 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if resp.StatusCode() != fasthttp.StatusTooManyRequests {
		return 0
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	return 0
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
