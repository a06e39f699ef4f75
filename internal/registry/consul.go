package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"twemstat/internal/config"
)

type catalogAPI interface {
	Service(service, tag string, q *api.QueryOptions) ([]*api.CatalogService, *api.QueryMeta, error)
}

type healthAPI interface {
	Service(service, tag string, passingOnly bool, q *api.QueryOptions) ([]*api.ServiceEntry, *api.QueryMeta, error)
}

// Consul looks up service instances through the Consul HTTP API.
// Params: catalog/health endpoints and query settings.
// Returns: Registry implementation.
type Consul struct {
	catalog     catalogAPI
	health      healthAPI
	datacenter  string
	passingOnly bool
	timeout     time.Duration
}

// NewConsul builds a Consul-backed registry from config.
// Params: cfg registry section (host, port, scheme, token, datacenter).
// Returns: registry client or construction error.
func NewConsul(cfg config.RegistryConfig) (*Consul, error) {
	apiConfig := api.DefaultConfig()
	apiConfig.Address = cfg.Address()
	if cfg.Scheme != "" {
		apiConfig.Scheme = cfg.Scheme
	}
	if cfg.Token != "" {
		apiConfig.Token = cfg.Token
	}

	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("consul client %s: %w", apiConfig.Address, err)
	}

	return &Consul{
		catalog:     client.Catalog(),
		health:      client.Health(),
		datacenter:  strings.TrimSpace(cfg.Datacenter),
		passingOnly: cfg.PassingOnly,
		timeout:     cfg.Timeout.Duration,
	}, nil
}

// ListInstances returns all instances registered under service, sorted by node and id.
// Params: ctx for cancellation; service registry service name.
// Returns: instances (possibly empty) or error wrapping ErrUnavailable.
func (c *Consul) ListInstances(ctx context.Context, service string) ([]Instance, error) {
	name := strings.TrimSpace(service)
	if name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	query := (&api.QueryOptions{Datacenter: c.datacenter}).WithContext(ctx)

	var instances []Instance
	if c.passingOnly {
		entries, _, err := c.health.Service(name, "", true, query)
		if err != nil {
			return nil, fmt.Errorf("%w: health service %q: %w", ErrUnavailable, name, err)
		}
		instances = fromHealthEntries(entries)
	} else {
		entries, _, err := c.catalog.Service(name, "", query)
		if err != nil {
			return nil, fmt.Errorf("%w: catalog service %q: %w", ErrUnavailable, name, err)
		}
		instances = fromCatalogEntries(entries)
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Node != instances[j].Node {
			return instances[i].Node < instances[j].Node
		}
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}

// fromCatalogEntries converts catalog rows, falling back to node address for empty service address.
func fromCatalogEntries(entries []*api.CatalogService) []Instance {
	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		address := entry.ServiceAddress
		if address == "" {
			address = entry.Address
		}
		instances = append(instances, Instance{
			Address: address,
			Port:    entry.ServicePort,
			ID:      entry.ServiceID,
			Node:    entry.Node,
		})
	}
	return instances
}

func fromHealthEntries(entries []*api.ServiceEntry) []Instance {
	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Service == nil {
			continue
		}
		var node, nodeAddress string
		if entry.Node != nil {
			node = entry.Node.Node
			nodeAddress = entry.Node.Address
		}
		address := entry.Service.Address
		if address == "" {
			address = nodeAddress
		}
		instances = append(instances, Instance{
			Address: address,
			Port:    entry.Service.Port,
			ID:      entry.Service.ID,
			Node:    node,
		})
	}
	return instances
}
