package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// Frame body encodings
const (
	bodyJSON   byte = 'j'
	bodySnappy byte = 's'
)

// ErrBadFrame is returned for frames that do not follow the wire layout
var ErrBadFrame = errors.New("transport: malformed frame")

// Codec turns envelopes into frames. A frame is the topic, a newline, one
// encoding byte and the body. The newline keeps SUB prefix filters from
// matching a longer UUID that shares a prefix.
type Codec struct {
	Compress bool
}

// Encode renders env for topic
func (c Codec) Encode(topic string, env *protocol.Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return c.EncodeBody(topic, body), nil
}

// EncodeBody wraps an already-encoded JSON body
func (c Codec) EncodeBody(topic string, body []byte) []byte {
	frame := make([]byte, 0, len(topic)+2+len(body))
	frame = append(frame, topicPrefix(topic)...)
	if c.Compress {
		frame = append(frame, bodySnappy)
		return append(frame, snappy.Encode(nil, body)...)
	}
	frame = append(frame, bodyJSON)
	return append(frame, body...)
}

// Decode splits a frame into its topic and JSON body. Either encoding is
// accepted regardless of c.Compress so mixed fleets interoperate.
func (c Codec) Decode(frame []byte) (string, []byte, error) {
	i := bytes.IndexByte(frame, '\n')
	if i <= 0 || i+1 >= len(frame) {
		return "", nil, ErrBadFrame
	}
	topic := string(frame[:i])
	body := frame[i+2:]

	switch frame[i+1] {
	case bodyJSON:
		return topic, body, nil
	case bodySnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return topic, decoded, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown body encoding %q", ErrBadFrame, frame[i+1])
	}
}

// topicPrefix is the subscription filter matching exactly topic
func topicPrefix(topic string) []byte {
	return []byte(topic + "\n")
}
