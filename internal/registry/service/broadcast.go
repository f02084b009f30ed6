package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/repovista/repovista/internal/metrics"
	"github.com/repovista/repovista/internal/registry/model"
	"github.com/rs/zerolog/log"
)

// Broadcast issues the request to every instance of the group concurrently
// and succeeds only when every instance both responds and returns 2xx.
// Per-instance failures are logged and do not abort the other requests.
func (r *Registry) Broadcast(ctx context.Context, groupName, method, path string, query url.Values, body []byte) error {
	hosts := r.GroupHostnames(groupName)
	if hosts == nil {
		return model.ErrGroupNotFound
	}

	var wg sync.WaitGroup
	errs := make([]error, len(hosts))
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			if err := r.sendTo(ctx, host, method, path, query, body); err != nil {
				log.Error().Err(err).Str("service", groupName).Str("hostname", host).Str("path", path).Msg("broadcast request failed")
				metrics.BroadcastFailures.WithLabelValues(groupName).Inc()
				errs[i] = fmt.Errorf("%s: %w", host, err)
			}
		}(i, host)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (r *Registry) sendTo(ctx context.Context, host, method, path string, query url.Values, body []byte) error {
	target := "http://" + host + "/" + strings.TrimPrefix(path, "/")
	req := r.client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, target)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}

// notifySubscribers runs the notification pass for a changed group. Each
// subscriber gets the fixed payload broadcast to its own group at its
// registered callback path; a failing subscriber never blocks the others.
func (r *Registry) notifySubscribers(groupName string) {
	subs := r.snapshotSubscribers(groupName)
	if len(subs) == 0 {
		return
	}
	payload := []byte(fmt.Sprintf(`{"event":"instances-changed","service":%q}`, groupName))
	go func() {
		for _, sub := range subs {
			if sub.Kind != model.NotificationKindBroadcast {
				continue
			}
			if err := r.Broadcast(context.Background(), sub.ServiceName, "POST", sub.Path, nil, payload); err != nil {
				log.Error().Err(err).Str("service", groupName).Str("subscriber", sub.ServiceName).Str("path", sub.Path).Msg("subscriber notification failed")
			}
		}
	}()
}
