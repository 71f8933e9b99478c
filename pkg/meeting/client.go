// Package meeting talks to the external meeting host over its checksummed HTTP API.
package meeting

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// API call names understood by the host.
const (
	CallCreate         = "create"
	CallJoin           = "join"
	CallIsRunning      = "isMeetingRunning"
	CallGetMeetingInfo = "getMeetingInfo"
	CallEnd            = "end"
)

// Return codes carried by every response envelope.
const (
	ReturnCodeSuccess = "SUCCESS"
	ReturnCodeFailed  = "FAILED"
)

// Outcome labels reported to the CallObserver.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
)

const maxResponseBytes = 1 << 20

var (
	// ErrGatewayUnavailable wraps transport failures, timeouts and non-2xx responses.
	ErrGatewayUnavailable = errors.New("meeting gateway unavailable")
	// ErrMalformedResponse is returned when the host answers with an unparseable body.
	ErrMalformedResponse = errors.New("malformed meeting gateway response")
	// ErrMeetingNotFound is returned by MeetingInfo for unknown rooms.
	ErrMeetingNotFound = errors.New("meeting not found")
)

// CallObserver receives one observation per outbound call.
type CallObserver interface {
	ObserveGatewayCall(call, outcome string, duration time.Duration)
}

// Result is the returncode part shared by all responses. A result with
// Success=false is a normal rejection, not an error.
type Result struct {
	Success    bool
	ReturnCode string
	MessageKey string
	Message    string
}

// CreateParams describes a room to bring into existence.
type CreateParams struct {
	RoomID          int64
	Name            string
	ModeratorSecret string
	AttendeeSecret  string
	Welcome         string
	LogoutURL       string
	EndCallbackURL  string
	DurationMinutes int
}

// CreateResult carries the secrets the host settled on.
type CreateResult struct {
	Result
	ModeratorSecret string
	AttendeeSecret  string
}

// MeetingInfo is the subset of getMeetingInfo the service logs and exposes.
type MeetingInfo struct {
	MeetingID            string
	MeetingName          string
	Running              bool
	HasBeenForciblyEnded bool
	ParticipantCount     int
	ModeratorCount       int
	Duration             int
	StartTime            int64
	EndTime              int64
}

type envelope struct {
	XMLName              xml.Name `xml:"response"`
	ReturnCode           string   `xml:"returncode"`
	MessageKey           string   `xml:"messageKey"`
	Message              string   `xml:"message"`
	MeetingID            string   `xml:"meetingID"`
	MeetingName          string   `xml:"meetingName"`
	ModeratorPW          string   `xml:"moderatorPW"`
	AttendeePW           string   `xml:"attendeePW"`
	Running              string   `xml:"running"`
	HasBeenForciblyEnded string   `xml:"hasBeenForciblyEnded"`
	ParticipantCount     int      `xml:"participantCount"`
	ModeratorCount       int      `xml:"moderatorCount"`
	Duration             int      `xml:"duration"`
	StartTime            int64    `xml:"startTime"`
	EndTime              int64    `xml:"endTime"`
}

func (e *envelope) result() Result {
	return Result{
		Success:    e.ReturnCode == ReturnCodeSuccess,
		ReturnCode: e.ReturnCode,
		MessageKey: e.MessageKey,
		Message:    e.Message,
	}
}

// Client is a stateless adapter for the meeting host API.
type Client struct {
	baseURL  string
	secret   string
	http     *http.Client
	logger   *zap.Logger
	observer CallObserver
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver reports call outcomes, typically to Prometheus.
func WithObserver(o CallObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient constructs a Client. baseURL is the API root, e.g. https://host/bigbluebutton/api.
func NewClient(baseURL, sharedSecret string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  sharedSecret,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checksum computes hex(sha1(call + encoded query + secret)). Query keys are
// sorted by url.Values.Encode, which is also the order the request is sent in.
func Checksum(call string, params url.Values, secret string) string {
	sum := sha1.Sum([]byte(call + params.Encode() + secret))
	return hex.EncodeToString(sum[:])
}

// URL builds the signed request URL for a call.
func (c *Client) URL(call string, params url.Values) string {
	query := params.Encode()
	checksum := Checksum(call, params, c.secret)
	if query != "" {
		query += "&"
	}
	return c.baseURL + "/" + call + "?" + query + "checksum=" + checksum
}

// CreateRoom asks the host to create the room. The host treats repeated
// creates for a running room id as idempotent.
func (c *Client) CreateRoom(ctx context.Context, p CreateParams) (*CreateResult, error) {
	params := url.Values{}
	params.Set("meetingID", strconv.FormatInt(p.RoomID, 10))
	params.Set("name", p.Name)
	if p.ModeratorSecret != "" {
		params.Set("moderatorPW", p.ModeratorSecret)
	}
	if p.AttendeeSecret != "" {
		params.Set("attendeePW", p.AttendeeSecret)
	}
	if p.Welcome != "" {
		params.Set("welcome", p.Welcome)
	}
	if p.LogoutURL != "" {
		params.Set("logoutURL", p.LogoutURL)
	}
	if p.EndCallbackURL != "" {
		params.Set("meta_endCallbackUrl", p.EndCallbackURL)
	}
	params.Set("duration", strconv.Itoa(p.DurationMinutes))
	params.Set("allowStartStopRecording", "true")
	params.Set("autoStartRecording", "false")

	env, err := c.do(ctx, CallCreate, params)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		Result:          env.result(),
		ModeratorSecret: env.ModeratorPW,
		AttendeeSecret:  env.AttendeePW,
	}, nil
}

// JoinURL builds a role-scoped join URL. It does not check that the room exists.
func (c *Client) JoinURL(roomID int64, displayName, externalUserID, secret string) string {
	params := url.Values{}
	params.Set("meetingID", strconv.FormatInt(roomID, 10))
	params.Set("fullName", displayName)
	params.Set("userID", externalUserID)
	params.Set("password", secret)
	params.Set("redirect", "true")
	return c.URL(CallJoin, params)
}

// IsRunning reports whether the host currently runs the room. A rejected
// query is reported as not running.
func (c *Client) IsRunning(ctx context.Context, roomID int64) (bool, error) {
	params := url.Values{}
	params.Set("meetingID", strconv.FormatInt(roomID, 10))
	env, err := c.do(ctx, CallIsRunning, params)
	if err != nil {
		return false, err
	}
	if env.ReturnCode != ReturnCodeSuccess {
		c.logger.Warn("isMeetingRunning rejected",
			zap.Int64("room_id", roomID),
			zap.String("message_key", env.MessageKey))
		return false, nil
	}
	return parseBool(env.Running), nil
}

// MeetingInfo fetches meeting metadata or ErrMeetingNotFound.
func (c *Client) MeetingInfo(ctx context.Context, roomID int64, moderatorSecret string) (*MeetingInfo, error) {
	params := url.Values{}
	params.Set("meetingID", strconv.FormatInt(roomID, 10))
	params.Set("password", moderatorSecret)
	env, err := c.do(ctx, CallGetMeetingInfo, params)
	if err != nil {
		return nil, err
	}
	if env.ReturnCode != ReturnCodeSuccess {
		return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, env.MessageKey)
	}
	return &MeetingInfo{
		MeetingID:            env.MeetingID,
		MeetingName:          env.MeetingName,
		Running:              parseBool(env.Running),
		HasBeenForciblyEnded: parseBool(env.HasBeenForciblyEnded),
		ParticipantCount:     env.ParticipantCount,
		ModeratorCount:       env.ModeratorCount,
		Duration:             env.Duration,
		StartTime:            env.StartTime,
		EndTime:              env.EndTime,
	}, nil
}

// EndRoom terminates the room for everyone.
func (c *Client) EndRoom(ctx context.Context, roomID int64, moderatorSecret string) (*Result, error) {
	params := url.Values{}
	params.Set("meetingID", strconv.FormatInt(roomID, 10))
	params.Set("password", moderatorSecret)
	env, err := c.do(ctx, CallEnd, params)
	if err != nil {
		return nil, err
	}
	res := env.result()
	return &res, nil
}

func (c *Client) do(ctx context.Context, call string, params url.Values) (env *envelope, err error) {
	start := time.Now()
	outcome := OutcomeUnavailable
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGatewayCall(call, outcome, time.Since(start))
		}
		c.logger.Debug("meeting gateway call",
			zap.String("call", call),
			zap.String("outcome", outcome),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(call, params), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %v", ErrGatewayUnavailable, call, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrGatewayUnavailable, call, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrGatewayUnavailable, call, err)
	}

	env = &envelope{}
	if err := xml.Unmarshal(body, env); err != nil || env.ReturnCode == "" {
		outcome = OutcomeMalformed
		if err == nil {
			err = errors.New("missing returncode")
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, call, err)
	}

	if env.ReturnCode == ReturnCodeSuccess {
		outcome = OutcomeSuccess
	} else {
		outcome = OutcomeRejected
	}
	return env, nil
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
