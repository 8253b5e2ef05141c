// Package rest implements telephony.Provider against a LaML-compatible
// REST API (Twilio wire format, SignalWire spaces).
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dialcast/dialcast/internal/telephony"
)

const (
	apiPathPrefix = "/api/laml/2010-04-01"

	defaultTimeout = 15 * time.Second

	// maxResponseBytes bounds provider response bodies; participant lists
	// are the largest payloads and stay well under this.
	maxResponseBytes = 1 << 20
)

// statusCallbackEvents are the call progress events the provider reports
// to the status webhook.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// Config holds the provider API credentials.
type Config struct {
	// SpaceURL is the provider space, e.g. "https://example.signalwire.com".
	SpaceURL  string
	ProjectID string
	AuthToken string
	Timeout   time.Duration
}

// Client is an HTTP client for the provider's calling and conference APIs.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	projectID  string
	authToken  string
	logger     *slog.Logger
}

// NewClient creates a provider client from the given credentials.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.SpaceURL, "/") + apiPathPrefix,
		projectID:  cfg.ProjectID,
		authToken:  cfg.AuthToken,
		logger:     logger.With("subsystem", "telephony"),
	}
}

type callResource struct {
	Sid        string `json:"sid"`
	To         string `json:"to"`
	From       string `json:"from"`
	Status     string `json:"status"`
	AnsweredBy string `json:"answered_by"`
}

type conferenceResource struct {
	Sid          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

type conferenceListResource struct {
	Conferences []conferenceResource `json:"conferences"`
}

type participantResource struct {
	CallSid             string `json:"call_sid"`
	ConferenceSid       string `json:"conference_sid"`
	Muted               bool   `json:"muted"`
	Hold                bool   `json:"hold"`
	EndConferenceOnExit bool   `json:"end_conference_on_exit"`
	Status              string `json:"status"`
}

type participantListResource struct {
	Participants []participantResource `json:"participants"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do sends one API request and decodes the response into out when non-nil.
// Non-2xx responses become *telephony.ProviderError.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("telephony: creating request: %w", err)
	}
	req.SetBasicAuth(c.projectID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("telephony: reading response: %w", err)
	}

	c.logger.Debug("provider request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &telephony.ProviderError{StatusCode: resp.StatusCode}
		var e apiError
		if json.Unmarshal(respBody, &e) == nil {
			perr.Code = e.Code
			perr.Message = e.Message
		}
		return perr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("telephony: decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) accountPath(parts ...string) string {
	return "/Accounts/" + c.projectID + "/" + strings.Join(parts, "/")
}

// Dial places an outbound call and returns the provider call resource.
func (c *Client) Dial(ctx context.Context, req telephony.DialRequest) (*telephony.Call, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.AnswerURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, event := range statusCallbackEvents {
			form.Add("StatusCallbackEvent", event)
		}
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "DetectMessageEnd")
	}
	if req.TimeoutSeconds > 0 {
		form.Set("Timeout", strconv.Itoa(req.TimeoutSeconds))
	}

	var res callResource
	if err := c.do(ctx, http.MethodPost, c.accountPath("Calls.json"), form, &res); err != nil {
		return nil, err
	}
	return toCall(res), nil
}

// Hangup ends a call by moving it to completed.
func (c *Client) Hangup(ctx context.Context, callRef string) error {
	form := url.Values{}
	form.Set("Status", string(telephony.StatusCompleted))
	return c.do(ctx, http.MethodPost, c.accountPath("Calls", url.PathEscape(callRef)+".json"), form, nil)
}

// GetCall fetches the current state of a call.
func (c *Client) GetCall(ctx context.Context, callRef string) (*telephony.Call, error) {
	var res callResource
	if err := c.do(ctx, http.MethodGet, c.accountPath("Calls", url.PathEscape(callRef)+".json"), nil, &res); err != nil {
		return nil, err
	}
	return toCall(res), nil
}

// FindConferenceID resolves a live conference by friendly name.
func (c *Client) FindConferenceID(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("FriendlyName", name)
	query.Set("Status", "in-progress")

	var res conferenceListResource
	path := c.accountPath("Conferences.json") + "?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return "", err
	}
	if len(res.Conferences) == 0 {
		return "", fmt.Errorf("conference %q: %w", name, telephony.ErrConferenceNotFound)
	}
	return res.Conferences[0].Sid, nil
}

// AddConferenceParticipant dials a new leg directly into the conference.
func (c *Client) AddConferenceParticipant(ctx context.Context, conferenceName string, req telephony.ParticipantRequest) (*telephony.Participant, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("EndConferenceOnExit", strconv.FormatBool(req.EndConferenceOnExit))
	if req.Muted {
		form.Set("Muted", "true")
	}
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
	}

	var res participantResource
	path := c.accountPath("Conferences", url.PathEscape(conferenceName), "Participants.json")
	if err := c.do(ctx, http.MethodPost, path, form, &res); err != nil {
		return nil, err
	}
	return toParticipant(res), nil
}

// RemoveParticipant kicks a leg out of the conference.
func (c *Client) RemoveParticipant(ctx context.Context, conferenceID, callRef string) error {
	path := c.accountPath("Conferences", url.PathEscape(conferenceID), "Participants", url.PathEscape(callRef)+".json")
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// HoldParticipant sets or clears hold on a conference leg.
func (c *Client) HoldParticipant(ctx context.Context, conferenceID, callRef string, hold bool) error {
	form := url.Values{}
	form.Set("Hold", strconv.FormatBool(hold))
	return c.updateParticipant(ctx, conferenceID, callRef, form)
}

// MuteParticipant sets or clears mute on a conference leg.
func (c *Client) MuteParticipant(ctx context.Context, conferenceID, callRef string, mute bool) error {
	form := url.Values{}
	form.Set("Muted", strconv.FormatBool(mute))
	return c.updateParticipant(ctx, conferenceID, callRef, form)
}

// SetEndConferenceOnExit flips whether the conference ends when the leg leaves.
func (c *Client) SetEndConferenceOnExit(ctx context.Context, conferenceID, callRef string, end bool) error {
	form := url.Values{}
	form.Set("EndConferenceOnExit", strconv.FormatBool(end))
	return c.updateParticipant(ctx, conferenceID, callRef, form)
}

func (c *Client) updateParticipant(ctx context.Context, conferenceID, callRef string, form url.Values) error {
	path := c.accountPath("Conferences", url.PathEscape(conferenceID), "Participants", url.PathEscape(callRef)+".json")
	var res participantResource
	return c.do(ctx, http.MethodPost, path, form, &res)
}

// ListParticipants returns the live legs of a conference.
func (c *Client) ListParticipants(ctx context.Context, conferenceID string) ([]telephony.Participant, error) {
	var res participantListResource
	path := c.accountPath("Conferences", url.PathEscape(conferenceID), "Participants.json")
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	out := make([]telephony.Participant, 0, len(res.Participants))
	for _, p := range res.Participants {
		out = append(out, *toParticipant(p))
	}
	return out, nil
}

func toCall(res callResource) *telephony.Call {
	return &telephony.Call{
		Ref:        res.Sid,
		To:         res.To,
		From:       res.From,
		Status:     telephony.CallStatus(res.Status),
		AnsweredBy: res.AnsweredBy,
	}
}

func toParticipant(res participantResource) *telephony.Participant {
	return &telephony.Participant{
		CallRef:             res.CallSid,
		ConferenceID:        res.ConferenceSid,
		Muted:               res.Muted,
		Hold:                res.Hold,
		EndConferenceOnExit: res.EndConferenceOnExit,
		Status:              res.Status,
	}
}
