package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const dataPrefix = "data:"

// envelope is the wire shape of one decoded push frame.
type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ParseEventStream consumes a newline-delimited push stream to completion.
//
// Lines beginning with "data:" accumulate (prefix stripped, leading
// whitespace trimmed); a blank line flushes the accumulated lines, joined
// with "\n", as one logical event. Each flushed buffer is JSON-decoded: an
// object with a set error field fires onError with that field, otherwise a
// set result field fires onEvent. Frames that fail to decode are logged and
// dropped; the stream is not assumed delivery-guaranteed at the frame level,
// and one bad frame must not kill the connection. A non-empty trailing
// buffer is flushed at end of stream.
//
// Reader errors are not swallowed: they are logged and returned, and the
// caller owns reconnect/backoff policy.
func ParseEventStream(r io.Reader, onEvent func(json.RawMessage), onError func(json.RawMessage)) error {
	br := bufio.NewReader(r)
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		payload := strings.Join(buf, "\n")
		buf = buf[:0]
		dispatch(payload, onEvent, onError)
	}

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, dataPrefix):
				rest := strings.TrimLeft(strings.TrimPrefix(line, dataPrefix), " \t")
				buf = append(buf, rest)
			}
			// Non-data, non-blank lines (comments, other fields) are ignored.
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				return nil
			}
			log.Warn().Err(err).Msg("push stream read failed")
			return fmt.Errorf("read push stream: %w", err)
		}
	}
}

func dispatch(payload string, onEvent func(json.RawMessage), onError func(json.RawMessage)) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("dropping undecodable push frame")
		return
	}
	if truthy(env.Error) {
		onError(env.Error)
		return
	}
	if truthy(env.Result) {
		onEvent(env.Result)
	}
}

// truthy reports whether a decoded JSON field is set to something a consumer
// should act on. Absent fields, null, false, zero and the empty string all
// read as unset.
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
