package cache

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bufcache/internal/backing"
)

type op uint8

const (
	opRead op = iota
	opWrite
)

func (o op) String() string {
	if o == opWrite {
		return "write"
	}
	return "read"
}

// transfer issues one positioned read or write for all of p and reissues it,
// up to MaxRetries more times, while fewer than len(p) bytes move.
func (e *Engine) transfer(o op, h backing.Handle, p []byte, off int64) (int, error) {
	var (
		n   int
		err error
	)
	attempts := e.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if o == opWrite {
			n, err = h.Pwrite(p, off)
		} else {
			n, err = h.Pread(p, off)
		}
		if n == len(p) {
			return n, nil
		}
		if attempt < attempts {
			e.logger.WithFields(logrus.Fields{
				"action":  "cache_retry",
				"op":      o.String(),
				"file":    h.Name(),
				"offset":  off,
				"want":    len(p),
				"got":     n,
				"attempt": attempt,
			}).Debug("short transfer, retrying")
		}
	}
	return n, &ShortTransferError{
		Op:       o.String(),
		Name:     h.Name(),
		Offset:   off,
		Want:     len(p),
		Got:      n,
		Attempts: attempts,
		cause:    err,
	}
}
