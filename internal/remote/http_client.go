package remote

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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

var (
	errMissingBaseURL  = errors.New("hub base url is required")
	errMissingDeviceID = errors.New("device id is required")
)

// ClientConfig describes the hub HTTP binding.
type ClientConfig struct {
	BaseURL    string
	DeviceID   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implements DataService and MembershipService over the hub's HTTP
// API with device bearer-token authentication.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	logger   *zap.Logger

	tokenMu sync.Mutex
	token   string
}

// NewClient validates the configuration and returns the hub binding.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errMissingDeviceID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		deviceID: cfg.DeviceID,
		http:     httpClient,
		logger:   logger,
	}, nil
}

type deviceAuthRequest struct {
	DeviceID string `json:"device_id"`
}

type deviceAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	body, err := json.Marshal(deviceAuthRequest{DeviceID: c.deviceID})
	if err != nil {
		return "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/device", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("remote: device auth failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: device auth returned status %d", ErrUnauthorized, response.StatusCode)
	}

	var parsed deviceAuthResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("remote: device auth decode failed: %w", err)
	}
	c.token = parsed.AccessToken
	c.logger.Debug("device token refreshed", zap.String("device_id", c.deviceID), zap.Int64("expires_in", parsed.ExpiresIn))
	return c.token, nil
}

// do issues one authenticated request, re-authenticating once when the hub
// rejects a cached token.
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	c.tokenMu.Lock()
	token := c.token
	c.tokenMu.Unlock()

	if token == "" {
		fresh, err := c.authenticate(ctx)
		if err != nil {
			return err
		}
		token = fresh
	}

	status, err := c.doOnce(ctx, method, path, payload, out, token)
	if err == nil && status == http.StatusUnauthorized {
		fresh, authErr := c.authenticate(ctx)
		if authErr != nil {
			return authErr
		}
		status, err = c.doOnce(ctx, method, path, payload, out, fresh)
	}
	if err != nil {
		return err
	}
	return statusError(method, path, status)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload, out any, token string) (int, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return 0, fmt.Errorf("remote: %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return response.StatusCode, fmt.Errorf("remote: %s %s decode failed: %w", method, path, err)
		}
	}
	return response.StatusCode, nil
}

func statusError(method, path string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrFarmNotFound, method, path)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", ErrFarmExists, method, path)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	default:
		return fmt.Errorf("remote: %s %s returned status %d", method, path, status)
	}
}

type rowsPayload struct {
	Rows []model.Row `json:"rows"`
}

// Upsert writes rows to the shared farm data table in a single batch call.
func (c *Client) Upsert(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	farmID := rows[0].FarmID
	return c.do(ctx, http.MethodPost, "/farms/"+url.PathEscape(farmID)+"/data", rowsPayload{Rows: rows}, nil)
}

// SelectAll fetches the full row snapshot for a farm.
func (c *Client) SelectAll(ctx context.Context, farmID string) ([]model.Row, error) {
	var parsed rowsPayload
	err := c.do(ctx, http.MethodGet, "/farms/"+url.PathEscape(farmID)+"/data", nil, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.Rows, nil
}

// Delete removes one row keyed by (id, farm id).
func (c *Client) Delete(ctx context.Context, id, farmID string) error {
	return c.do(ctx, http.MethodDelete, "/farms/"+url.PathEscape(farmID)+"/data/"+url.PathEscape(id), nil, nil)
}

// DeleteByType removes every row of one kind for a farm.
func (c *Client) DeleteByType(ctx context.Context, farmID string, dataType model.DataType) error {
	return c.do(ctx, http.MethodDelete, "/farms/"+url.PathEscape(farmID)+"/data-types/"+url.PathEscape(string(dataType)), nil, nil)
}

// CreateFarm registers a new farm id; taken ids surface ErrFarmExists.
func (c *Client) CreateFarm(ctx context.Context, farm Farm) error {
	return c.do(ctx, http.MethodPost, "/farms", farm, nil)
}

// GetFarm fetches a farm row; unknown ids surface ErrFarmNotFound.
func (c *Client) GetFarm(ctx context.Context, id string) (Farm, error) {
	var farm Farm
	err := c.do(ctx, http.MethodGet, "/farms/"+url.PathEscape(id), nil, &farm)
	if err != nil {
		return Farm{}, err
	}
	return farm, nil
}

// UpsertMember inserts or refreshes this device's membership row.
func (c *Client) UpsertMember(ctx context.Context, member Member) (Member, error) {
	var saved Member
	err := c.do(ctx, http.MethodPut, "/farms/"+url.PathEscape(member.FarmID)+"/members", member, &saved)
	if err != nil {
		return Member{}, err
	}
	return saved, nil
}

type membersPayload struct {
	Members []Member `json:"members"`
}

// ListMembers returns the farm's membership rows ordered by join time.
func (c *Client) ListMembers(ctx context.Context, farmID string) ([]Member, error) {
	var parsed membersPayload
	err := c.do(ctx, http.MethodGet, "/farms/"+url.PathEscape(farmID)+"/members", nil, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.Members, nil
}

type memberNamePayload struct {
	UserName string `json:"user_name"`
}

// UpdateMemberName renames this device's membership row.
func (c *Client) UpdateMemberName(ctx context.Context, farmID, deviceID, userName string) error {
	path := "/farms/" + url.PathEscape(farmID) + "/members/" + url.PathEscape(deviceID) + "/name"
	return c.do(ctx, http.MethodPut, path, memberNamePayload{UserName: userName}, nil)
}

// DeleteMember removes one membership row by its member id.
func (c *Client) DeleteMember(ctx context.Context, memberID string) error {
	return c.do(ctx, http.MethodDelete, "/members/"+url.PathEscape(memberID), nil, nil)
}

// DeleteFarm removes the farm row and everything keyed to it.
func (c *Client) DeleteFarm(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/farms/"+url.PathEscape(id), nil, nil)
}
