// Package mdns advertises the HTTP surface on the local network.
package mdns

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const serviceType = "_http._tcp"

// Advertise registers a "physical-mcp" instance for the vision API port and
// keeps it alive until ctx is done. Failure is logged, never fatal; discovery
// is a convenience.
func Advertise(ctx context.Context, instanceSuffix string, port int, logger zerolog.Logger) {
	name := "physical-mcp"
	if instanceSuffix != "" {
		name = fmt.Sprintf("physical-mcp-%s", instanceSuffix)
	}
	server, err := zeroconf.Register(name, serviceType, "local.", port,
		[]string{"path=/health"}, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("mDNS advertisement unavailable")
		return
	}
	logger.Info().Str("instance", name).Int("port", port).Msg("advertising over mDNS")
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
}
