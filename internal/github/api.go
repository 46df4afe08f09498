package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
)

const listPageSize = 100

// Identity is the authenticated account and the organizations it belongs to.
type Identity struct {
	Login         string
	Organizations []string
}

// FetchIdentity reads the authenticated user and its organizations. Failing to
// read the user is an error; failing to list organizations is logged and the
// identity is returned with the user scope only.
func (c *Client) FetchIdentity(ctx context.Context) (Identity, error) {
	user, err := RequestJSON[*github.User](ctx, c, http.MethodGet, "user", nil, 0)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch authenticated user: %w", err)
	}
	login := strings.TrimSpace(user.GetLogin())
	if login == "" {
		return Identity{}, errors.New("fetch authenticated user: response has no login")
	}

	id := Identity{Login: login}
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("user/orgs?per_page=%d&page=%d", listPageSize, page)
		orgs, err := RequestJSON[[]*github.Organization](ctx, c, http.MethodGet, endpoint, nil, 0)
		if err != nil {
			if ctx.Err() != nil {
				return Identity{}, ctx.Err()
			}
			c.logger.Warn("listing organizations failed, continuing with user scope only", zap.Error(err))
			break
		}
		for _, org := range orgs {
			if name := org.GetLogin(); name != "" {
				id.Organizations = append(id.Organizations, name)
			}
		}
		if len(orgs) < listPageSize {
			break
		}
	}
	return id, nil
}

// CodeSearchPage is one page of code search results.
type CodeSearchPage struct {
	Total int
	Items []*github.CodeResult
	// ItemsPresent is false when the response carried no "items" key at all.
	ItemsPresent bool
	Incomplete   bool
}

func (c *Client) SearchCode(ctx context.Context, query string, page, perPage int) (CodeSearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))

	type searchResponse struct {
		Total      *int                  `json:"total_count"`
		Incomplete *bool                 `json:"incomplete_results"`
		Items      *[]*github.CodeResult `json:"items"`
	}
	res, err := RequestJSON[searchResponse](ctx, c, http.MethodGet, "search/code?"+params.Encode(), nil, 0)
	if err != nil {
		return CodeSearchPage{}, err
	}

	out := CodeSearchPage{}
	if res.Total != nil {
		out.Total = *res.Total
	}
	if res.Incomplete != nil {
		out.Incomplete = *res.Incomplete
	}
	if res.Items != nil {
		out.ItemsPresent = true
		out.Items = *res.Items
	}
	return out, nil
}

func (c *Client) ListWorkflows(ctx context.Context, repo string) ([]*github.Workflow, error) {
	var all []*github.Workflow
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("repos/%s/actions/workflows?per_page=%d&page=%d", repo, listPageSize, page)
		res, err := RequestJSON[github.Workflows](ctx, c, http.MethodGet, endpoint, nil, 0)
		if err != nil {
			return all, fmt.Errorf("list workflows for %s: %w", repo, err)
		}
		all = append(all, res.Workflows...)
		if len(res.Workflows) < listPageSize {
			return all, nil
		}
	}
}

func (c *Client) DisableWorkflow(ctx context.Context, repo string, workflowID int64) error {
	endpoint := fmt.Sprintf("repos/%s/actions/workflows/%d/disable", repo, workflowID)
	if _, err := c.Request(ctx, http.MethodPut, endpoint, nil, 0); err != nil {
		return fmt.Errorf("disable workflow %d in %s: %w", workflowID, repo, err)
	}
	return nil
}

// FetchRateBudget reads the current quotas in a single attempt and records
// them in the client's budget tracker.
func (c *Client) FetchRateBudget(ctx context.Context) (RateBudget, error) {
	v, err, _ := c.refresh.Do("rate_limit", func() (any, error) {
		res, err := RequestJSON[struct {
			Resources *github.RateLimits `json:"resources"`
		}](ctx, c, http.MethodGet, "rate_limit", nil, 1)
		if err != nil {
			return nil, err
		}
		c.budget.Update(res.Resources)
		return c.budget.Snapshot(), nil
	})
	if err != nil {
		return RateBudget{}, fmt.Errorf("fetch rate limit: %w", err)
	}
	return v.(RateBudget), nil
}

const (
	coreLowWater   = 100
	searchLowWater = 10
)

// CheckRateBudget refreshes the quota and warns when it runs low. It is
// advisory: failures are logged and the last known snapshot is returned.
func (c *Client) CheckRateBudget(ctx context.Context) RateBudget {
	rb, err := c.FetchRateBudget(ctx)
	if err != nil {
		c.logger.Warn("rate limit check failed", zap.Error(err))
		return c.budget.Snapshot()
	}

	if rb.Core.Observed && rb.Core.Remaining < coreLowWater {
		c.logger.Warn("core API quota is low",
			zap.Int("remaining", rb.Core.Remaining),
			zap.Int("limit", rb.Core.Limit),
			zap.String("resets_at", rb.Core.Reset.Local().Format(time.DateTime)),
		)
	}
	if rb.Search.Observed && rb.Search.Remaining < searchLowWater {
		c.logger.Warn("search API quota is low",
			zap.Int("remaining", rb.Search.Remaining),
			zap.Int("limit", rb.Search.Limit),
			zap.String("resets_at", rb.Search.Reset.Local().Format(time.DateTime)),
		)
	}
	c.logger.Info("api quota",
		zap.Int("core_remaining", rb.Core.Remaining),
		zap.Int("search_remaining", rb.Search.Remaining),
	)
	return rb
}
