// Package cluster reads the service registry out of the configuration store
// and keeps the transport subscribed to every registered instance.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dd0wney/cluso-monitor/pkg/configstore"
)

// Persisted values of an instance's online flag
const (
	Online  = "true"
	Offline = "false"
)

// FormatOnline renders b the way the store persists it
func FormatOnline(b bool) string {
	return strconv.FormatBool(b)
}

// ServiceInstance is one registered copy of a service
type ServiceInstance struct {
	UUID string
	// Online is the flag as persisted, normally Online or Offline. It is
	// kept verbatim so an unexpected value never reads as a transition.
	Online string
}

// IsOnline reports whether the persisted flag is "true"
func (i ServiceInstance) IsOnline() bool {
	return i.Online == Online
}

// Service is a named service and its instances in registration order
type Service struct {
	Name      string
	Instances []ServiceInstance
}

// Registry is a read-only snapshot of the service registry. Services and
// instances keep the store's order.
type Registry struct {
	Services []Service
}

// ReadRegistry takes a snapshot of /system/services. A store without the
// subtree yields an empty registry.
func ReadRegistry(ctx context.Context, store configstore.Configurator) (*Registry, error) {
	root, err := store.GetConf(ctx, configstore.ServicesKey)
	if err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	return RegistryFromNode(root), nil
}

// RegistryFromNode converts a services subtree. Services without a cluster
// child have no instances.
func RegistryFromNode(root *configstore.Node) *Registry {
	reg := &Registry{}
	if root == nil {
		return reg
	}
	for _, svc := range root.Children {
		service := Service{Name: svc.Name}
		if cluster := svc.Child("cluster"); cluster != nil {
			for _, inst := range cluster.Children {
				instance := ServiceInstance{UUID: inst.Name}
				if flag := inst.Child("online"); flag != nil {
					instance.Online = flag.Value
				}
				service.Instances = append(service.Instances, instance)
			}
		}
		reg.Services = append(reg.Services, service)
	}
	return reg
}

// ServiceOf returns the name of the first service with an instance uuid
func (r *Registry) ServiceOf(uuid string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, svc := range r.Services {
		for _, inst := range svc.Instances {
			if inst.UUID == uuid {
				return svc.Name, true
			}
		}
	}
	return "", false
}

// UUIDs lists every instance UUID in registry order, without duplicates
func (r *Registry) UUIDs() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, svc := range r.Services {
		for _, inst := range svc.Instances {
			if _, ok := seen[inst.UUID]; ok {
				continue
			}
			seen[inst.UUID] = struct{}{}
			out = append(out, inst.UUID)
		}
	}
	return out
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, svc := range r.Services {
		n += len(svc.Instances)
	}
	return n
}
