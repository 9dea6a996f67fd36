package inject

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// ReadInput reads lines from r and calls post with each non-empty one until
// r is exhausted or ctx is done. The newline is not included.
func ReadInput(ctx context.Context, r io.Reader, post func(data []byte)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer.
		data := make([]byte, len(line))
		copy(data, line)
		post(data)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("inject: read input: %w", err)
	}
	slog.Debug("[INPUT] end of input")
	return nil
}
