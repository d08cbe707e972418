package door

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/icholy/digest"
)

// ISAPIClient talks to a vendor access-control terminal over its
// digest-authenticated JSON HTTP API.
type ISAPIClient struct {
	name       string
	baseURL    string // e.g. "http://10.0.30.4"
	employeeNo string
	httpClient *http.Client

	// loc is the timezone the device reports and accepts timestamps in.
	loc *time.Location
}

// ISAPIConfig configures a single vendor door endpoint.
type ISAPIConfig struct {
	Name       string
	Host       string
	Username   string
	Password   string
	EmployeeNo string

	// CallTimeout bounds every HTTP call.  Defaults to 10s.
	CallTimeout time.Duration

	// Location for timestamps on the wire.  Defaults to time.Local.
	Location *time.Location
}

func NewISAPIClient(cfg ISAPIConfig) *ISAPIClient {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &ISAPIClient{
		name:       cfg.Name,
		baseURL:    "http://" + cfg.Host,
		employeeNo: cfg.EmployeeNo,
		loc:        loc,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &digest.Transport{
				Username: cfg.Username,
				Password: cfg.Password,
			},
		},
	}
}

func (c *ISAPIClient) Name() string { return c.name }

// isapiStatus is the vendor's generic operation result envelope.
type isapiStatus struct {
	StatusCode    int    `json:"statusCode"`
	StatusString  string `json:"statusString"`
	SubStatusCode string `json:"subStatusCode"`
}

func (c *ISAPIClient) CreateCard(ctx context.Context, cardNo string) error {
	body := map[string]any{
		"CardInfo": map[string]any{
			"employeeNo": c.employeeNo,
			"cardNo":     cardNo,
			"cardType":   "normalCard",
		},
	}
	var status isapiStatus
	if err := c.call(ctx, http.MethodPost, "/ISAPI/AccessControl/CardInfo/Record?format=json", body, &status, "CreateCard"); err != nil {
		return err
	}
	if status.StatusCode != 1 {
		return &Error{Door: c.name, Op: "CreateCard", Err: fmt.Errorf("device status %q (%s)", status.StatusString, status.SubStatusCode)}
	}
	return nil
}

func (c *ISAPIClient) DeleteCard(ctx context.Context, cardNo string) error {
	body := map[string]any{
		"CardInfoDelCond": map[string]any{
			"CardNoList": []map[string]string{{"cardNo": cardNo}},
		},
	}
	var status isapiStatus
	if err := c.call(ctx, http.MethodPut, "/ISAPI/AccessControl/CardInfo/Delete?format=json", body, &status, "DeleteCard"); err != nil {
		// The device reports deleting an absent card as success; a
		// stray notFound is success from our point of view too.
		var de *Error
		if errors.As(err, &de) && de.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *ISAPIClient) ListCards(ctx context.Context) ([]string, error) {
	body := map[string]any{
		"CardInfoSearchCond": map[string]any{
			"searchID":             uuid.NewString(),
			"maxResults":           1000,
			"searchResultPosition": 0,
			"EmployeeNoList":       []map[string]string{{"employeeNo": c.employeeNo}},
		},
	}
	var resp struct {
		CardInfoSearch struct {
			NumOfMatches int `json:"numOfMatches"`
			CardInfo     []struct {
				CardNo string `json:"cardNo"`
			} `json:"CardInfo"`
		} `json:"CardInfoSearch"`
	}
	if err := c.call(ctx, http.MethodPost, "/ISAPI/AccessControl/CardInfo/Search?format=json", body, &resp, "ListCards"); err != nil {
		return nil, err
	}
	cards := make([]string, 0, len(resp.CardInfoSearch.CardInfo))
	for _, ci := range resp.CardInfoSearch.CardInfo {
		cards = append(cards, ci.CardNo)
	}
	return cards, nil
}

func (c *ISAPIClient) ListUsageEvents(ctx context.Context, since, until time.Time) ([]UsageEvent, error) {
	body := map[string]any{
		"AcsEventCond": map[string]any{
			"searchID":             uuid.NewString(),
			"searchResultPosition": 0,
			"maxResults":           1000,
			"major":                0,
			"minor":                0,
			"startTime":            c.wireTime(since),
			"endTime":              c.wireTime(until),
			"employeeNoString":     c.employeeNo,
		},
	}
	var resp struct {
		AcsEvent struct {
			InfoList []struct {
				CardNo string `json:"cardNo"`
				Time   string `json:"time"`
			} `json:"InfoList"`
		} `json:"AcsEvent"`
	}
	if err := c.call(ctx, http.MethodPost, "/ISAPI/AccessControl/AcsEvent?format=json", body, &resp, "ListUsageEvents"); err != nil {
		return nil, err
	}

	events := make([]UsageEvent, 0, len(resp.AcsEvent.InfoList))
	for _, e := range resp.AcsEvent.InfoList {
		if e.CardNo == "" {
			continue
		}
		at, err := time.Parse("2006-01-02T15:04:05-07:00", e.Time)
		if err != nil {
			// Entries without a card swipe (or with device clock
			// garbage) are of no use to the reconciler.
			continue
		}
		events = append(events, UsageEvent{CardNo: e.CardNo, OccurredAt: at})
	}
	return events, nil
}

// wireTime renders t in the device's timezone with second precision, the
// only format the event search endpoint accepts.
func (c *ISAPIClient) wireTime(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02T15:04:05-07:00")
}

func (c *ISAPIClient) call(ctx context.Context, method, path string, body, out any, op string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Door: c.name, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Door: c.name, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Door: c.name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Door: c.name, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Door: c.name, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", bytes.TrimSpace(raw))}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Door: c.name, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
