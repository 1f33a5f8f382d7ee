package gateway

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	tailBacklog      = 20
	tailPollInterval = time.Second
)

// handleBlotterTail streams blotter entries over a websocket: the last few
// entries on connect, then every new line as it is appended. The stream is
// read-only; client messages are drained and ignored.
func (s *Server) handleBlotterTail(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	go drainReads(ctx, conn)

	// Offset is captured before the backlog is read so an append racing
	// the connect is streamed rather than lost. The worst case is one
	// entry appearing in both the backlog and the live tail.
	offset, err := fileSize(s.blotter.Path())
	if err != nil {
		s.logger.Warn("gateway: sizing blotter", "error", err)
	}

	backlog, err := s.blotter.ReadLast(tailBacklog)
	if err != nil {
		s.logger.Warn("gateway: reading blotter backlog", "error", err)
	}
	for _, line := range backlog {
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lines, next, err := readFrom(s.blotter.Path(), offset)
		if err != nil {
			s.logger.Warn("gateway: tailing blotter", "error", err)
			continue
		}
		offset = next
		for _, line := range lines {
			if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
				return
			}
		}
	}
}

// drainReads consumes client frames so control messages are processed.
func drainReads(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// readFrom returns complete lines appended after offset and the new offset.
// A trailing partial line is left for the next poll. A truncated or rotated
// file resets the offset to zero.
func readFrom(path string, offset int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	buf, err := io.ReadAll(io.LimitReader(f, info.Size()-offset))
	if err != nil {
		return nil, offset, err
	}

	chunk := string(buf)
	last := strings.LastIndexByte(chunk, '\n')
	if last < 0 {
		return nil, offset, nil
	}
	complete := chunk[:last]
	offset += int64(last) + 1

	var lines []string
	for _, line := range strings.Split(complete, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, offset, nil
}
