package esl

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"parley/internal/domain"
)

// frame is one wire unit of the event socket protocol: a block of
// "Key: value" headers terminated by a blank line, optionally followed
// by Content-Length bytes of body.
type frame struct {
	headers map[string]string
	body    []byte
}

func (f *frame) contentType() string {
	return f.headers["Content-Type"]
}

func (f *frame) replyText() string {
	return strings.TrimSpace(f.headers["Reply-Text"])
}

func readFrame(r *bufio.Reader) (*frame, error) {
	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	f := &frame{headers: headers}
	if raw := headers["Content-Length"]; raw != "" {
		length, err := strconv.Atoi(raw)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("bad content length %q", raw)
		}
		f.body = make([]byte, length)
		if _, err := io.ReadFull(r, f.body); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// parseEvent decodes a text/event-plain body into a call event. Header
// values inside the body are URL-encoded by the platform.
func parseEvent(body []byte) (domain.Event, bool) {
	headers := make(map[string]string)
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = decodeHeaderValue(strings.TrimSpace(value))
	}

	name := headers["Event-Name"]
	if name == "" {
		return domain.Event{}, false
	}
	return domain.Event{
		Name:    name,
		CallID:  headers["Unique-ID"],
		Headers: headers,
	}, true
}

func decodeHeaderValue(value string) string {
	if !strings.Contains(value, "%") {
		return value
	}
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
