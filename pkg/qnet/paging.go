package qnet

import (
	"context"
	"strconv"
)

// DefaultPageSize is the row count requested per page when fetching a
// full result set.
const DefaultPageSize = 100

// FetchAllPages retrieves every page of a paged operation and returns
// the raw page bodies in order. The first page's embedded totalCount
// decides how many follow-up pages exist; a body without the marker is
// returned as a single page.
//
// Pages are fetched sequentially. Each page is an independent Fetch, so
// already-cached pages are served from the cache and the rest go
// upstream under the usual retry policy.
func (c *Client) FetchAllPages(ctx context.Context, endpoint string, params map[string]string, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	fetchPage := func(pageNo int) (*UpstreamResult, error) {
		pageParams := make(map[string]string, len(params)+2)
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams["pageNo"] = strconv.Itoa(pageNo)
		pageParams["numOfRows"] = strconv.Itoa(pageSize)
		return c.Fetch(ctx, endpoint, pageParams)
	}

	first, err := fetchPage(1)
	if err != nil {
		return nil, err
	}

	bodies := []string{first.Body}

	total := scanTotalCount(first.Body)
	if total < 0 {
		c.logger.Debug().
			Str("endpoint", endpoint).
			Msg("No totalCount marker, treating response as single page")
		return bodies, nil
	}

	totalPages := (total + pageSize - 1) / pageSize
	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("total_count", total).
		Int("total_pages", totalPages).
		Msg("Fetching remaining pages")

	for pageNo := 2; pageNo <= totalPages; pageNo++ {
		page, err := fetchPage(pageNo)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, page.Body)
	}

	return bodies, nil
}
