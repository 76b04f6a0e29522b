package websearch

import "errors"

// ErrSearchFailed wraps failures of the search request itself.
var ErrSearchFailed = errors.New("web search failed")
