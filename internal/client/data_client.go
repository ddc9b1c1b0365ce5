package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// TokenSource supplies the access token for data calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// DataClientConfig wires the data API client.
type DataClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *zap.Logger
}

// DataClient calls the members data tables and functions.
type DataClient struct {
	transport transport
	tokens    TokenSource
}

func NewDataClient(cfg DataClientConfig) (*DataClient, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("client: token source is required")
	}
	t, err := newTransport(cfg.BaseURL, cfg.HTTPClient, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &DataClient{transport: t, tokens: cfg.Tokens}, nil
}

func (c *DataClient) call(ctx context.Context, method string, path string, body any, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	return c.transport.do(ctx, method, path, token, body, out)
}

// MyProfile returns the caller's profile, creating it on first access.
func (c *DataClient) MyProfile(ctx context.Context) (Profile, error) {
	var profile Profile
	err := c.call(ctx, http.MethodGet, "/rest/v1/profiles/me", nil, &profile)
	return profile, err
}

// MemberCredentials resolves a member number to its login material. The call
// needs no session.
func (c *DataClient) MemberCredentials(ctx context.Context, memberNumber string) (MemberCredentials, error) {
	var found MemberCredentials
	err := c.transport.do(ctx, http.MethodPost, "/rest/v1/rpc/member_credentials", "", map[string]string{"member_number": memberNumber}, &found)
	return found, err
}

func (c *DataClient) ListCollectors(ctx context.Context, search string) ([]Collector, error) {
	var found []Collector
	err := c.call(ctx, http.MethodGet, "/rest/v1/collectors"+encodeQuery(url.Values{"search": {search}}), nil, &found)
	return found, err
}

func (c *DataClient) CreateCollector(ctx context.Context, name string) (Collector, error) {
	var created Collector
	err := c.call(ctx, http.MethodPost, "/rest/v1/collectors", map[string]string{"name": name}, &created)
	return created, err
}

func (c *DataClient) ListMembers(ctx context.Context, query MemberQuery) (MemberPage, error) {
	values := url.Values{"search": {query.Search}, "collector_id": {query.CollectorID}}
	if query.Page > 0 {
		values.Set("page", strconv.Itoa(query.Page))
	}
	if query.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(query.PageSize))
	}
	var page MemberPage
	err := c.call(ctx, http.MethodGet, "/rest/v1/members"+encodeQuery(values), nil, &page)
	return page, err
}

func (c *DataClient) GetMember(ctx context.Context, id string) (MemberDetail, error) {
	var detail MemberDetail
	err := c.call(ctx, http.MethodGet, "/rest/v1/members/"+url.PathEscape(id), nil, &detail)
	return detail, err
}

func (c *DataClient) ListPayments(ctx context.Context, memberID string, date string, amount string) ([]Payment, error) {
	var found []Payment
	path := "/rest/v1/members/" + url.PathEscape(memberID) + "/payments" + encodeQuery(url.Values{"date": {date}, "amount": {amount}})
	err := c.call(ctx, http.MethodGet, path, nil, &found)
	return found, err
}

func (c *DataClient) FinanceStats(ctx context.Context) (FinanceStats, error) {
	var stats FinanceStats
	err := c.call(ctx, http.MethodGet, "/rest/v1/finance/stats", nil, &stats)
	return stats, err
}

func (c *DataClient) ListTickets(ctx context.Context, query TicketQuery) ([]Ticket, error) {
	values := url.Values{"search": {query.Search}, "status": {query.Status}, "priority": {query.Priority}}
	var found []Ticket
	err := c.call(ctx, http.MethodGet, "/rest/v1/tickets"+encodeQuery(values), nil, &found)
	return found, err
}

func (c *DataClient) CreateTicket(ctx context.Context, subject string, message string, priority string) (Ticket, error) {
	body := map[string]string{"subject": subject, "message": message, "priority": priority}
	var created Ticket
	err := c.call(ctx, http.MethodPost, "/rest/v1/tickets", body, &created)
	return created, err
}

func (c *DataClient) RespondTicket(ctx context.Context, ticketID string, message string) (TicketResponse, error) {
	var created TicketResponse
	path := "/rest/v1/tickets/" + url.PathEscape(ticketID) + "/responses"
	err := c.call(ctx, http.MethodPost, path, map[string]string{"message": message}, &created)
	return created, err
}

func (c *DataClient) ListNotices(ctx context.Context) ([]Notice, error) {
	var found []Notice
	err := c.call(ctx, http.MethodGet, "/rest/v1/notices", nil, &found)
	return found, err
}

// SendNotice sends message to one collector's members, or to everyone when
// collectorID is empty or "all".
func (c *DataClient) SendNotice(ctx context.Context, message string, collectorID string) (Notice, error) {
	var sent Notice
	body := map[string]string{"message": message, "collector_id": collectorID}
	err := c.call(ctx, http.MethodPost, "/rest/v1/notices", body, &sent)
	return sent, err
}

// SendWelcomeEmail invokes the welcome function, which creates the account and
// mails the temporary password.
func (c *DataClient) SendWelcomeEmail(ctx context.Context, request WelcomeRequest) (string, error) {
	var response struct {
		Message string `json:"message"`
	}
	err := c.call(ctx, http.MethodPost, "/functions/v1/send-welcome-email", request, &response)
	return response.Message, err
}

func encodeQuery(values url.Values) string {
	for key, entries := range values {
		if len(entries) == 0 || entries[0] == "" {
			values.Del(key)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}
