package upnp

import (
	"context"
	"strings"
)

// ConnectionManager is urn:schemas-upnp-org:service:ConnectionManager:1.
type ConnectionManager struct {
	*Service
}

// GetProtocolInfo returns the source and sink protocolInfo lists.
func (c *ConnectionManager) GetProtocolInfo(ctx context.Context) (source, sink []string, err error) {
	resp, err := c.Invoke(ctx, "GetProtocolInfo")
	if err != nil {
		return nil, nil, err
	}
	return splitCSV(resp["Source"]), splitCSV(resp["Sink"]), nil
}

func (c *ConnectionManager) GetCurrentConnectionIDs(ctx context.Context) ([]string, error) {
	resp, err := c.Invoke(ctx, "GetCurrentConnectionIDs")
	if err != nil {
		return nil, err
	}
	return splitCSV(resp["ConnectionIDs"]), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
