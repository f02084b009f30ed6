package model

import (
	"errors"
	"time"
)

var (
	ErrGroupNotFound      = errors.New("service group not found")
	ErrInstanceNotFound   = errors.New("service instance not found")
	ErrInstanceExists     = errors.New("service instance already registered")
	ErrSubscriberExists   = errors.New("subscriber already registered")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrNoHealthyInstance  = errors.New("no healthy instance available")
)

// ServiceInstance is one live member of a service group, keyed by hostname.
// Health is derived from LastPing+TTL at read time, never stored.
type ServiceInstance struct {
	Hostname  string            `json:"hostname"`
	CheckPath string            `json:"checkPath"`
	Meta      map[string]string `json:"meta,omitempty"`
	TTL       time.Duration     `json:"-"`
	LastPing  time.Time         `json:"-"`
	// LastHealthy is what the liveness monitor saw on its previous scan,
	// kept only so transitions are logged exactly once.
	LastHealthy bool `json:"-"`
}

// HealthyAt reports whether the instance's ping is still within its TTL.
func (i *ServiceInstance) HealthyAt(now time.Time) bool {
	return now.Before(i.LastPing.Add(i.TTL))
}

// NotificationSubscriber is a service that wants a broadcast to its own group
// whenever the owning group's membership changes. Unique per
// (service, kind, path) triple.
type NotificationSubscriber struct {
	ServiceName string `json:"serviceName"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
}

const NotificationKindBroadcast = "broadcast"

// ServiceGroup owns the instances and subscribers for one service name.
// Groups are created lazily and never explicitly deleted.
type ServiceGroup struct {
	Name        string
	Instances   map[string]*ServiceInstance
	Subscribers []NotificationSubscriber
}

// RegisterRequest is the body of PUT /v1/service/{name}/{hostname}.
type RegisterRequest struct {
	CheckPath string            `json:"checkPath"`
	TTL       string            `json:"ttl,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// InstanceView is the query representation of an instance.
type InstanceView struct {
	Hostname  string            `json:"hostname"`
	CheckPath string            `json:"checkPath"`
	Healthy   bool              `json:"healthy"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// GroupView is the query representation of a group.
type GroupView struct {
	Name      string         `json:"name"`
	Instances []InstanceView `json:"instances"`
}
