package node

import (
	"strings"
	"time"
)

type rpclogType int

const (
	logRequest rpclogType = iota
	logResponse
	logError
)

// longest body preview written by the rpc log
const rpclogPreview = 96

func (t rpclogType) String() string {
	switch t {
	case logRequest:
		return "REQ"
	case logResponse:
		return "RSP"
	case logError:
		return "ERR"
	default:
		return ""
	}
}

func printable(r rune) rune {
	if r >= 32 && r < 127 {
		return r
	}
	return '.'
}

// logString renders a binary body as printable ASCII
func logString(body []byte) string {
	if len(body) > rpclogPreview {
		body = body[:rpclogPreview]
	}
	return strings.Map(printable, string(body))
}

// rpclog writes at most one request line and one response or error line per call.
func (c *Context) rpclog(t rpclogType, size int, body string) {
	if !c.node.rpcLog {
		return
	}

	if (c.logState == 0 && t == logRequest) || (c.logState == 1 && t != logRequest) {
		c.logger.InfoWith(t.String(),
			"service", c.service,
			"size", size,
			"elapsed", time.Since(c.received).String(),
			"body", body)
		c.logState++
	}
}
