// Package discovery advertises the gateway on the local network over
// mDNS and lets tools find running gateways.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type of a twinctl gateway.
const ServiceType = "_twinctl._tcp"

// Metadata holds the TXT record fields for the service.
type Metadata struct {
	Role        string   // e.g., "gateway"
	Version     string   // gateway version
	Bind        string   // "loopback" or "lan"
	Endpoints   []string // WebSocket paths, e.g. /ws/mcp
	DisplayName string
	Instance    string // relay instance id, empty when the relay is off
}

// TXT renders the metadata as key=value records.
func (m Metadata) TXT() []string {
	txt := []string{
		"role=" + m.Role,
		"version=" + m.Version,
		"bind=" + m.Bind,
		"displayName=" + m.DisplayName,
	}
	if len(m.Endpoints) > 0 {
		txt = append(txt, "endpoints="+strings.Join(m.Endpoints, ","))
	}
	if m.Instance != "" {
		txt = append(txt, "instance="+m.Instance)
	}
	return txt
}

// ParseTXT is the inverse of TXT. Unknown keys are ignored.
func ParseTXT(records []string) Metadata {
	var m Metadata
	for _, rec := range records {
		k, v, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch k {
		case "role":
			m.Role = v
		case "version":
			m.Version = v
		case "bind":
			m.Bind = v
		case "displayName":
			m.DisplayName = v
		case "endpoints":
			if v != "" {
				m.Endpoints = strings.Split(v, ",")
			}
		case "instance":
			m.Instance = v
		}
	}
	return m
}

// Config holds configuration for the mDNS advertiser.
type Config struct {
	InstanceName string // Name of the service instance
	Port         int    // Port where the service is running
	// Iface restricts advertisement to one interface. Falls back to
	// TWINCTL_MDNS_IFACE.
	Iface string
	Meta  Metadata
}

// Advertiser manages the mDNS service registration.
type Advertiser struct {
	servers []*mdns.Server
	cfg     Config
}

// NewAdvertiser creates a new advertiser with the given config.
func NewAdvertiser(cfg Config) (*Advertiser, error) {
	if cfg.InstanceName == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("port must be > 0")
	}
	if cfg.Iface == "" {
		cfg.Iface = strings.TrimSpace(os.Getenv("TWINCTL_MDNS_IFACE"))
	}
	return &Advertiser{cfg: cfg}, nil
}

// Start begins advertising the service. The mdns servers run their own
// goroutines; Start returns once they are bound.
func (a *Advertiser) Start() error {
	service, err := mdns.NewMDNSService(
		a.cfg.InstanceName,
		ServiceType,
		"",
		"",
		a.cfg.Port,
		nil, // IPs (nil = all interfaces)
		a.cfg.Meta.TXT(),
	)
	if err != nil {
		return fmt.Errorf("create mdns service: %w", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}

	var servers []*mdns.Server
	for _, iface := range ifaces {
		iface := iface
		if a.cfg.Iface != "" && iface.Name != a.cfg.Iface {
			continue
		}
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagMulticast) == 0 {
			continue
		}

		server, err := mdns.NewServer(&mdns.Config{
			Zone:  service,
			Iface: &iface,
		})
		if err != nil {
			slog.Warn("mdns interface bind failed", "iface", iface.Name, "error", err)
			continue
		}
		slog.Debug("mdns interface bound", "iface", iface.Name)
		servers = append(servers, server)
	}

	// Fallback to default interface if none succeeded and no explicit filter.
	if len(servers) == 0 && a.cfg.Iface == "" {
		server, err := mdns.NewServer(&mdns.Config{Zone: service})
		if err != nil {
			return fmt.Errorf("start mdns server: %w", err)
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		return fmt.Errorf("no mdns interfaces bound (filter=%q)", a.cfg.Iface)
	}

	a.servers = servers
	return nil
}

// Bound reports how many interfaces the advertisement is running on.
func (a *Advertiser) Bound() int { return len(a.servers) }

// Stop shuts down the mDNS advertisement.
func (a *Advertiser) Stop() error {
	var firstErr error
	for _, server := range a.servers {
		if server == nil {
			continue
		}
		if err := server.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.servers = nil
	return firstErr
}

// Gateway is a gateway found on the network.
type Gateway struct {
	Name string
	Host string
	Addr string // host:port
	Meta Metadata
}

// URL returns the WebSocket URL for path on this gateway.
func (g Gateway) URL(path string) string {
	return "ws://" + g.Addr + path
}

func gatewayFromEntry(e *mdns.ServiceEntry) Gateway {
	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	host := e.Host
	if ip != nil {
		host = ip.String()
	}
	return Gateway{
		Name: e.Name,
		Host: e.Host,
		Addr: net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Meta: ParseTXT(e.InfoFields),
	}
}
