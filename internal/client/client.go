// Package client is the HTTP transport for the messaging API. Client
// implements session.API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/tracing"
)

// APIError is a non-2xx response from the API. It unwraps to the model
// sentinel matching its status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("messaging api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("messaging api: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto a model sentinel.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusForbidden:
		return model.ErrForbidden
	case http.StatusUnauthorized:
		return model.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.ErrInvalidArgument
	default:
		return nil
	}
}

// Client talks to the messaging API with a bearer token.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets a per-request timeout. A client passed with
// WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l.Named("client") }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// ViewerFromToken reads the user id and role from a bearer token without
// verifying its signature. The server verifies every request; the client only
// needs to know who it is acting for.
func ViewerFromToken(token string) (model.Viewer, error) {
	claims := &middleware.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return model.Viewer{}, fmt.Errorf("failed to parse token: %w", err)
	}
	viewer := model.Viewer{UserID: model.CanonicalID(claims.Subject), Role: claims.Role}
	if viewer.UserID == "" || viewer.Role == "" {
		return model.Viewer{}, fmt.Errorf("token is missing subject or role: %w", model.ErrUnauthorized)
	}
	return viewer, nil
}

// endpoint is a request path together with the route template it was built
// from. Spans are named after the template.
type endpoint struct {
	route string
	path  string
}

const activeTenantsRoute = "/api/v1/landlord/tenants/active"

// messagesEndpoint fills the {param} segments of route, in order, with ids.
func messagesEndpoint(role model.Role, route string, ids ...string) (endpoint, error) {
	ns := role.Namespace()
	if ns == "" {
		return endpoint{}, fmt.Errorf("role %q has no messaging namespace: %w", role, model.ErrForbidden)
	}
	segs := strings.Split(strings.TrimPrefix(route, "/"), "/")
	for i, seg := range segs {
		if !strings.HasPrefix(seg, "{") {
			continue
		}
		if len(ids) == 0 {
			return endpoint{}, fmt.Errorf("route %s: missing %s", route, seg)
		}
		segs[i] = url.PathEscape(ids[0])
		ids = ids[1:]
	}
	base := "/api/v1/" + ns + "/messages"
	return endpoint{route: base + route, path: base + "/" + strings.Join(segs, "/")}, nil
}

// ListConversations lists the viewer's conversations.
func (c *Client) ListConversations(ctx context.Context, role model.Role) ([]model.Conversation, error) {
	e, err := messagesEndpoint(role, "/conversations")
	if err != nil {
		return nil, err
	}
	var resp model.ListConversationsResponse
	if err := c.do(ctx, http.MethodGet, e, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// MessageStats returns inbox totals.
func (c *Client) MessageStats(ctx context.Context, role model.Role) (*model.MessageStats, error) {
	e, err := messagesEndpoint(role, "/stats")
	if err != nil {
		return nil, err
	}
	var stats model.MessageStats
	if err := c.do(ctx, http.MethodGet, e, nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CreateConversation creates or fetches the conversation with otherUserID.
func (c *Client) CreateConversation(ctx context.Context, role model.Role, otherUserID string) (*model.Conversation, error) {
	e, err := messagesEndpoint(role, "/conversations")
	if err != nil {
		return nil, err
	}
	var conv model.Conversation
	req := &model.CreateConversationRequest{OtherUserID: otherUserID}
	if err := c.do(ctx, http.MethodPost, e, nil, req, &conv); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, errors.New("messaging api: conversation without id")
	}
	return &conv, nil
}

// ListMessages returns a conversation's messages.
func (c *Client) ListMessages(ctx context.Context, role model.Role, conversationID string) ([]model.Message, error) {
	e, err := messagesEndpoint(role, "/conversations/{id}/messages", conversationID)
	if err != nil {
		return nil, err
	}
	var resp model.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, e, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage sends a message. A nil message in a successful response is
// returned as is; callers treat it as malformed.
func (c *Client) SendMessage(ctx context.Context, role model.Role, req *model.SendMessageRequest) (*model.Message, error) {
	e, err := messagesEndpoint(role, "/send")
	if err != nil {
		return nil, err
	}
	var resp model.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, e, nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// DeleteMessage deletes a message and reports whether it was purged.
func (c *Client) DeleteMessage(ctx context.Context, role model.Role, messageID string) (bool, error) {
	e, err := messagesEndpoint(role, "/{messageId}", messageID)
	if err != nil {
		return false, err
	}
	var resp model.DeleteMessageResponse
	if err := c.do(ctx, http.MethodDelete, e, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.PermanentlyDeleted, nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, role model.Role, conversationID string) error {
	e, err := messagesEndpoint(role, "/conversations/{id}", conversationID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, e, nil, nil, nil)
}

// ActiveTenants returns the landlord's active tenant roster.
func (c *Client) ActiveTenants(ctx context.Context) ([]model.TenantSummary, error) {
	var resp model.ActiveTenantsResponse
	e := endpoint{route: activeTenantsRoute, path: activeTenantsRoute}
	if err := c.do(ctx, http.MethodGet, e, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tenants, nil
}

// ActiveTenantsForUnit returns the roster restricted to one unit.
func (c *Client) ActiveTenantsForUnit(ctx context.Context, unitID string) ([]model.TenantSummary, error) {
	var resp model.ActiveTenantsResponse
	q := url.Values{"unitId": {unitID}}
	e := endpoint{route: activeTenantsRoute, path: activeTenantsRoute}
	if err := c.do(ctx, http.MethodGet, e, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tenants, nil
}

// UnitScoped is a Client whose active tenant roster is restricted to one
// unit, so a landlord session only provisions conversations for that unit.
type UnitScoped struct {
	*Client
	UnitID string
}

// ForUnit returns c scoped to unitID.
func (c *Client) ForUnit(unitID string) *UnitScoped {
	return &UnitScoped{Client: c, UnitID: unitID}
}

// ActiveTenants returns the roster of the scoped unit.
func (u *UnitScoped) ActiveTenants(ctx context.Context) ([]model.TenantSummary, error) {
	return u.ActiveTenantsForUnit(ctx, u.UnitID)
}

// do performs one request inside a client span. A nil out discards the body.
func (c *Client) do(ctx context.Context, method string, e endpoint, query url.Values, in, out interface{}) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, method+" "+e.route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", e.route),
		),
	)
	path := e.path
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("correlation_id", resp.Header.Get(middleware.CorrelationIDHeader)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
