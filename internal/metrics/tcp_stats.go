package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// MaxStatsBytes is the maximum accepted size of one stats document.
const MaxStatsBytes = 16 << 20

// StatsFetcher reads the JSON stats document a proxy streams on connect.
// The peer sends no framing; the document ends when the peer closes the connection.
type StatsFetcher struct {
	timeout  time.Duration
	maxBytes int64
	dialer   net.Dialer
}

// NewStatsFetcher creates a fetcher bounding dial and the whole read by timeout.
// Params: timeout per-instance deadline.
// Returns: configured fetcher.
func NewStatsFetcher(timeout time.Duration) *StatsFetcher {
	return &StatsFetcher{
		timeout:  timeout,
		maxBytes: MaxStatsBytes,
		dialer:   net.Dialer{Timeout: timeout},
	}
}

// FetchStats connects to address:port, reads until EOF and decodes one JSON object.
// Params: ctx cancels dial and read; address host or IP; port stats TCP port.
// Returns: decoded stats, or error wrapping ErrConnection / ErrMalformedPayload.
func (f *StatsFetcher) FetchStats(ctx context.Context, address string, port int) (Blob, error) {
	endpoint := net.JoinHostPort(address, strconv.Itoa(port))

	conn, err := f.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, endpoint, err)
	}
	defer conn.Close()

	if f.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(f.timeout)); err != nil {
			return nil, fmt.Errorf("%w: set deadline %s: %w", ErrConnection, endpoint, err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	limit := f.maxBytes
	if limit <= 0 {
		limit = MaxStatsBytes
	}
	payload, err := io.ReadAll(io.LimitReader(conn, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrConnection, endpoint, err)
	}
	if int64(len(payload)) > limit {
		return nil, fmt.Errorf("%w: %s sent more than %d bytes", ErrMalformedPayload, endpoint, limit)
	}

	blob, err := DecodeStats(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return blob, nil
}

// DecodeStats parses one JSON object, keeping numbers as json.Number.
// Params: payload full document bytes.
// Returns: decoded stats or error wrapping ErrMalformedPayload.
func DecodeStats(payload []byte) (Blob, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedPayload)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: root JSON must be an object", ErrMalformedPayload)
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var blob map[string]any
	if err := decoder.Decode(&blob); err != nil {
		return nil, fmt.Errorf("%w: decode JSON: %w", ErrMalformedPayload, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedPayload)
	}

	return Blob(blob), nil
}
