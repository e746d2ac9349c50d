package MidenRPC

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrBadStatus is returned when the Miden service answers with a status
// outside the accepted set.
var ErrBadStatus = errors.New("miden service responded with error status")

const (
	IdempotencyHeader = "Idempotency-Key"

	defaultTimeout       = 30 * time.Second
	defaultRetryCount    = 2
	defaultRetryInterval = 500 * time.Millisecond
	// error bodies are only quoted up to this length
	maxErrorBody = 4096
)

// Asset identifies a bridged token by its origin.
type Asset struct {
	OriginNetwork uint32 `json:"originNetwork"`
	OriginAddress string `json:"originAddress"`
	AssetSymbol   string `json:"assetSymbol"`
	Decimals      uint8  `json:"decimals"`
}

// ExitEvent is a bridge note observed on Miden.
type ExitEvent struct {
	NoteID           string          `json:"noteId"`
	BlockNumber      uint64          `json:"blockNumber"`
	Asset            Asset           `json:"asset"`
	Receiver         string          `json:"receiver"`
	DestinationChain uint64          `json:"destinationChain"`
	Amount           decimal.Decimal `json:"amount"`
	CallAddress      *string         `json:"callAddress"`
	CallData         *string         `json:"callData"`
}

// PolledEvents is the answer of /poll.
type PolledEvents struct {
	ChainTip uint64      `json:"chainTip"`
	Events   []ExitEvent `json:"events"`
}

// MintRequest is the body of /mint. Amount is sent as a JSON number.
type MintRequest struct {
	Asset     Asset       `json:"asset"`
	Recipient string      `json:"recipient"`
	Amount    json.Number `json:"amount"`
}

// MintedNote is the answer of /mint.
type MintedNote struct {
	NoteID        string `json:"noteId"`
	FaucetID      string `json:"faucetId"`
	TransactionID string `json:"transactionId"`
}

// apiError is the error body the service sends with a non-2xx status.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) String() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// RetryOnErrOr5xxRead retries reads that failed in transport or with a 5xx.
// Mints are never retried here; the relayer owns their redelivery.
func RetryOnErrOr5xxRead(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || r.StatusCode() >= http.StatusInternalServerError
}

// Client talks to one Miden service instance.
type Client struct {
	rest *resty.Client
	log  zerolog.Logger
}

func NewClient(apiURL string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "malformed miden api url %q", apiURL)
	}
	log = log.With().Str("component", "miden_rpc").Str("url", u.String()).Logger()

	rest := resty.New().
		SetBaseURL(u.String()).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{log}).
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryInterval).
		SetRetryMaxWaitTime(defaultRetryCount * defaultRetryInterval).
		AddRetryCondition(RetryOnErrOr5xxRead)

	return &Client{rest: rest, log: log}, nil
}

// Poll returns the bridge notes included at or above fromHeight and the
// service's current chain tip.
func (c *Client) Poll(ctx context.Context, fromHeight uint64) (*PolledEvents, error) {
	var res PolledEvents
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("fromHeight", strconv.FormatUint(fromHeight, 10)).
		ForceContentType("application/json").
		SetResult(&res).
		SetError(&apiError{}).
		Get("/poll")
	if err := c.check("/poll", resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

// Mint asks the service to mint a note. The idempotency key lets the service
// drop a repeated delivery of the same exit.
func (c *Client) Mint(ctx context.Context, mint MintRequest, idempotencyKey string) (*MintedNote, error) {
	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(mint).
		ForceContentType("application/json").
		SetResult(&MintedNote{}).
		SetError(&apiError{})
	if idempotencyKey != "" {
		req.SetHeader(IdempotencyHeader, idempotencyKey)
	}

	resp, err := req.Post("/mint")
	if err := c.check("/mint", resp, err, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return resp.Result().(*MintedNote), nil
}

// check turns a finished call into an error: transport failures, statuses
// outside accepted (ErrBadStatus) and empty or undecodable bodies.
func (c *Client) check(path string, resp *resty.Response, err error, accepted ...int) error {
	if resp == nil || resp.RawResponse == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return errors.Wrapf(err, "%s: request failed", path)
	}

	status := resp.StatusCode()
	if !isAccepted(status, accepted) {
		c.log.Warn().Int("status", status).Str("path", path).Msg("api responded with error status")
		return errors.Wrapf(ErrBadStatus, "%s: status %d: %s", path, status, errorMessage(resp))
	}
	if err != nil {
		return errors.Wrapf(err, "%s: malformed response", path)
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return errors.Errorf("%s: malformed response: empty body", path)
	}
	return nil
}

func isAccepted(status int, accepted []int) bool {
	for _, code := range accepted {
		if status == code {
			return true
		}
	}
	return false
}

func errorMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*apiError); ok {
		if msg := e.String(); msg != "" {
			return msg
		}
	}
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return body
}

type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
