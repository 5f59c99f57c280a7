package staff

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/periop/periop/internal/platform/apperr"
)

// HTTPDirectory reads staff from the hospital HR service instead of the
// local table. The remote exposes GET /staff, /staff/{id} and
// /staff?ids=a,b,c.
type HTTPDirectory struct {
	client *resty.Client
}

type listResponse struct {
	Data  []*StaffMember `json:"data"`
	Total int            `json:"total"`
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	return &HTTPDirectory{client: client}
}

func (d *HTTPDirectory) Get(ctx context.Context, id uuid.UUID) (*StaffMember, error) {
	var m StaffMember
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&m).
		SetPathParam("id", id.String()).
		Get("/staff/{id}")
	if err != nil {
		return nil, fmt.Errorf("%w: staff directory: %v", apperr.ErrStorageUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperr.NotFound("staff member", id)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: staff directory returned %d", apperr.ErrStorageUnavailable, resp.StatusCode())
	}
	return &m, nil
}

func (d *HTTPDirectory) Resolve(ctx context.Context, ids []uuid.UUID) ([]*StaffMember, error) {
	ids = distinct(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	var out listResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("ids", strings.Join(parts, ",")).
		Get("/staff")
	if err != nil {
		return nil, fmt.Errorf("%w: staff directory: %v", apperr.ErrStorageUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: staff directory returned %d", apperr.ErrStorageUnavailable, resp.StatusCode())
	}
	return orderByIDs(ids, out.Data)
}

func (d *HTTPDirectory) List(ctx context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error) {
	req := d.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(offset))
	if f.Role != "" {
		req.SetQueryParam("role", string(f.Role))
	}
	if f.Department != "" {
		req.SetQueryParam("department", f.Department)
	}
	var out listResponse
	resp, err := req.SetResult(&out).Get("/staff")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: staff directory: %v", apperr.ErrStorageUnavailable, err)
	}
	if resp.IsError() {
		return nil, 0, fmt.Errorf("%w: staff directory returned %d", apperr.ErrStorageUnavailable, resp.StatusCode())
	}
	return out.Data, out.Total, nil
}
