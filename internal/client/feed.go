package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/progress-tracker/internal/feed"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
)

var _ feed.Source = (*Client)(nil)

// maxEventSize bounds one SSE data payload.
const maxEventSize = 1 << 20

// Open streams GET /api/feed/{collection}. The channel is closed when ctx is
// cancelled or the server ends the stream; the server filters by the
// token's owner, so ownerID is only used to drop stray events.
func (c *Client) Open(ctx context.Context, collection model.Collection, ownerID string) (<-chan realtime.Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/feed/"+url.PathEscape(string(collection)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client.Open: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, fmt.Errorf("client.Open: %w", readError(resp))
	}

	events := make(chan realtime.Event)
	go func() {
		defer close(events)
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		if err := readEvents(ctx, resp, ownerID, events); err != nil && ctx.Err() == nil {
			c.logger.Warn("change feed stream failed",
				slog.String("collection", string(collection)),
				slog.String("error", err.Error()))
		}
	}()
	return events, nil
}

// readEvents parses the text/event-stream body. Only "change" events (or
// events without a name) carry data; comments are keep-alives. It returns
// the read error that ended the stream, nil on a clean end of body.
func readEvents(ctx context.Context, resp *http.Response, ownerID string, out chan<- realtime.Event) error {
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		name string
		data bytes.Buffer
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 && (name == "" || name == "change") {
				var ev realtime.Event
				if err := json.Unmarshal(data.Bytes(), &ev); err == nil && (ev.OwnerID == "" || ev.OwnerID == ownerID) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return nil
					}
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("client: reading change feed: %w", err)
	}
	return nil
}
