package mcpserver

import (
	"bufio"
	"context"
	"io"

	"github.com/nodespace/core/internal/logging"
)

// ServeStdio runs the MCP protocol as line-delimited JSON over r/w (spec
// §4.7 "stdio, line-delimited JSON"). One Session persists for the whole
// call, matching the stdio transport's single long-lived client connection.
func ServeStdio(ctx context.Context, srv *Server, r io.Reader, w io.Writer, clientID string) error {
	log := logging.Component("mcpserver-stdio")
	sess := NewSession(clientID)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := srv.Handle(ctx, sess, line)
		if resp == nil {
			continue
		}
		if _, err := w.Write(append(resp, '\n')); err != nil {
			log.Error().Err(err).Msg("write response")
			return err
		}
	}
	return scanner.Err()
}
