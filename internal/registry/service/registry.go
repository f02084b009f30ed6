package service

import (
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/repovista/repovista/internal/metrics"
	"github.com/repovista/repovista/internal/registry/model"
	"github.com/rs/zerolog/log"
)

// Registry is the in-memory directory of service groups. All collections are
// guarded by mu; nothing outside this package touches them directly.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*model.ServiceGroup

	client     *resty.Client
	defaultTTL time.Duration

	// now is injectable for liveness tests.
	now func() time.Time
}

func New(client *resty.Client, defaultTTL time.Duration) *Registry {
	if client == nil {
		client = resty.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &Registry{
		groups:     make(map[string]*model.ServiceGroup),
		client:     client,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// group returns the named group, creating it lazily when create is set.
// Caller must hold mu.
func (r *Registry) group(name string, create bool) *model.ServiceGroup {
	g, ok := r.groups[name]
	if !ok && create {
		g = &model.ServiceGroup{Name: name, Instances: make(map[string]*model.ServiceInstance)}
		r.groups[name] = g
	}
	return g
}

// SetInstance registers or replaces an instance. A duplicate hostname is a
// conflict unless the caller explicitly asks for replacement.
func (r *Registry) SetInstance(groupName, hostname string, req *model.RegisterRequest, replace bool) error {
	ttl := r.defaultTTL
	if req.TTL != "" {
		if d, err := time.ParseDuration(req.TTL); err == nil && d > 0 {
			ttl = d
		}
	}

	r.mu.Lock()
	g := r.group(groupName, true)
	if _, exists := g.Instances[hostname]; exists && !replace {
		r.mu.Unlock()
		return model.ErrInstanceExists
	}
	g.Instances[hostname] = &model.ServiceInstance{
		Hostname:    hostname,
		CheckPath:   req.CheckPath,
		Meta:        req.Meta,
		TTL:         ttl,
		LastPing:    r.now(),
		LastHealthy: true,
	}
	size := len(g.Instances)
	r.mu.Unlock()

	metrics.RegistryInstances.WithLabelValues(groupName).Set(float64(size))
	log.Info().Str("service", groupName).Str("hostname", hostname).Bool("replace", replace).Msg("instance registered")
	r.notifySubscribers(groupName)
	return nil
}

// RemoveInstance deletes an instance if present.
func (r *Registry) RemoveInstance(groupName, hostname string) error {
	r.mu.Lock()
	g := r.group(groupName, false)
	if g == nil {
		r.mu.Unlock()
		return model.ErrGroupNotFound
	}
	if _, ok := g.Instances[hostname]; !ok {
		r.mu.Unlock()
		return model.ErrInstanceNotFound
	}
	delete(g.Instances, hostname)
	size := len(g.Instances)
	r.mu.Unlock()

	metrics.RegistryInstances.WithLabelValues(groupName).Set(float64(size))
	log.Info().Str("service", groupName).Str("hostname", hostname).Msg("instance removed")
	r.notifySubscribers(groupName)
	return nil
}

// Ping refreshes an instance's liveness heartbeat.
func (r *Registry) Ping(groupName, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.group(groupName, false)
	if g == nil {
		return model.ErrGroupNotFound
	}
	inst, ok := g.Instances[hostname]
	if !ok {
		return model.ErrInstanceNotFound
	}
	inst.LastPing = r.now()
	return nil
}

// GroupState returns the live instance list with derived health.
func (r *Registry) GroupState(groupName string) (*model.GroupView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.group(groupName, false)
	if g == nil {
		return nil, model.ErrGroupNotFound
	}
	now := r.now()
	view := &model.GroupView{Name: g.Name, Instances: make([]model.InstanceView, 0, len(g.Instances))}
	for _, inst := range g.Instances {
		view.Instances = append(view.Instances, model.InstanceView{
			Hostname:  inst.Hostname,
			CheckPath: inst.CheckPath,
			Healthy:   inst.HealthyAt(now),
			Meta:      inst.Meta,
		})
	}
	return view, nil
}

// Subscribe adds a membership-change subscriber to the group, creating the
// group lazily. Duplicates are rejected.
func (r *Registry) Subscribe(groupName string, sub model.NotificationSubscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.group(groupName, true)
	for _, s := range g.Subscribers {
		if s == sub {
			log.Warn().Str("service", groupName).Str("subscriber", sub.ServiceName).Str("path", sub.Path).Msg("duplicate subscription rejected")
			return model.ErrSubscriberExists
		}
	}
	g.Subscribers = append(g.Subscribers, sub)
	log.Info().Str("service", groupName).Str("subscriber", sub.ServiceName).Str("path", sub.Path).Msg("subscriber registered")
	return nil
}

// Unsubscribe removes a subscriber; removing an absent one is not found.
func (r *Registry) Unsubscribe(groupName string, sub model.NotificationSubscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.group(groupName, false)
	if g == nil {
		return model.ErrGroupNotFound
	}
	for i, s := range g.Subscribers {
		if s == sub {
			g.Subscribers = append(g.Subscribers[:i], g.Subscribers[i+1:]...)
			log.Info().Str("service", groupName).Str("subscriber", sub.ServiceName).Msg("subscriber removed")
			return nil
		}
	}
	return model.ErrSubscriberNotFound
}

// GroupHostnames returns the current membership of a group. Unknown groups
// yield an empty set.
func (r *Registry) GroupHostnames(groupName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.group(groupName, false)
	if g == nil {
		return nil
	}
	hosts := make([]string, 0, len(g.Instances))
	for h := range g.Instances {
		hosts = append(hosts, h)
	}
	return hosts
}

// ResolveService picks one instance of the named group for a direct request,
// preferring healthy instances over stale ones.
func (r *Registry) ResolveService(groupName string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.group(groupName, false)
	if g == nil || len(g.Instances) == 0 {
		return "", model.ErrNoHealthyInstance
	}
	now := r.now()
	var stale string
	for h, inst := range g.Instances {
		if inst.HealthyAt(now) {
			return h, nil
		}
		stale = h
	}
	return stale, nil
}

// snapshotSubscribers copies a group's subscriber list.
func (r *Registry) snapshotSubscribers(groupName string) []model.NotificationSubscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.group(groupName, false)
	if g == nil {
		return nil
	}
	out := make([]model.NotificationSubscriber, len(g.Subscribers))
	copy(out, g.Subscribers)
	return out
}
