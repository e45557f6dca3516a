package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	aggregatedomain "github.com/usagekit/tally/internal/aggregate/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
)

func (s *Server) AggregateUsage(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	width, err := aggregatedomain.ParseWidth(c.Query("bucket_width"))
	if err != nil {
		AbortWithError(c, newValidationError("bucket_width", "invalid_bucket_width", "bucket_width must be a duration or day/week/month"))
		return
	}

	buckets, err := s.aggregateSvc.Aggregate(c.Request.Context(), aggregatedomain.Request{
		Account:      strings.TrimSpace(c.Query("account")),
		SKU:          strings.TrimSpace(c.Query("sku")),
		From:         from,
		To:           to,
		BucketWidth:  width,
		ExplicitOnly: c.Query("explicit_only") == "true",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": buckets})
}

func (s *Server) ListEvents(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter := eventdomain.Filter{
		Account: strings.TrimSpace(c.Query("account")),
		SKU:     strings.TrimSpace(c.Query("sku")),
		From:    from,
		To:      to,
	}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	if raw := strings.TrimSpace(c.Query("after")); raw != "" {
		after, err := uuid.Parse(raw)
		if err != nil {
			AbortWithError(c, newValidationError("after", "invalid_cursor", "after must be an event uuid"))
			return
		}
		filter.After = &after
	}

	events, err := s.eventStore.Query(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

// parseTimeRange reads the optional from/to query params and rejects an
// inverted range.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, newValidationError("from", "invalid_timestamp", "from must be RFC3339")
		}
		from = parsed
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, newValidationError("to", "invalid_timestamp", "to must be RFC3339")
		}
		to = parsed
	}

	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, newValidationError("from", "invalid_time_range", "from must not be after to")
	}
	return from, to, nil
}
