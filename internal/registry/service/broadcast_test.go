package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/repovista/repovista/internal/registry/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostOf strips the scheme so an httptest server can be registered the way a
// real instance would be, by hostname.
func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestBroadcast_FansOutToEveryInstance(t *testing.T) {
	r := newTestRegistry()

	var hits atomic.Int32
	bodies := make(chan string, 2)
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		b, _ := io.ReadAll(req.Body)
		bodies <- req.URL.Path + "?" + req.URL.RawQuery + " " + string(b)
		w.WriteHeader(http.StatusOK)
	})
	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	require.NoError(t, r.SetInstance("visualization", hostOf(srv1), &model.RegisterRequest{}, false))
	require.NoError(t, r.SetInstance("visualization", hostOf(srv2), &model.RegisterRequest{}, false))

	query := url.Values{"transactionId": {"tx-1"}}
	err := r.Broadcast(context.Background(), "visualization", http.MethodPost, "snapshot/repo-1", query, []byte(`{"k":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	for i := 0; i < 2; i++ {
		assert.Equal(t, `/snapshot/repo-1?transactionId=tx-1 {"k":"v"}`, <-bodies)
	}
}

func TestBroadcast_PartialFailureDoesNotShortCircuit(t *testing.T) {
	r := newTestRegistry()

	var okHits, badHits atomic.Int32
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	require.NoError(t, r.SetInstance("visualization", hostOf(okSrv), &model.RegisterRequest{}, false))
	require.NoError(t, r.SetInstance("visualization", hostOf(badSrv), &model.RegisterRequest{}, false))

	err := r.Broadcast(context.Background(), "visualization", http.MethodPost, "reload", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	// the healthy instance was still reached
	assert.Equal(t, int32(1), okHits.Load())
	assert.Equal(t, int32(1), badHits.Load())
}

func TestBroadcast_UnknownGroup(t *testing.T) {
	r := newTestRegistry()
	err := r.Broadcast(context.Background(), "unknown", http.MethodPost, "reload", nil, nil)
	require.ErrorIs(t, err, model.ErrGroupNotFound)
}

func TestBroadcast_KnownEmptyGroupSucceeds(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.SetInstance("visualization", "v1", &model.RegisterRequest{}, false))
	require.NoError(t, r.RemoveInstance("visualization", "v1"))

	err := r.Broadcast(context.Background(), "visualization", http.MethodPost, "reload", nil, nil)
	require.NoError(t, err)
}

func TestMembershipChangeNotifiesSubscribers(t *testing.T) {
	r := newTestRegistry()

	notified := make(chan string, 4)
	watcher := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		notified <- req.URL.Path + " " + string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer watcher.Close()

	require.NoError(t, r.SetInstance("watcher", hostOf(watcher), &model.RegisterRequest{}, false))
	sub := model.NotificationSubscriber{ServiceName: "watcher", Kind: model.NotificationKindBroadcast, Path: "membership-changed"}
	require.NoError(t, r.Subscribe("visualization", sub))

	require.NoError(t, r.SetInstance("visualization", "v1", &model.RegisterRequest{}, false))
	select {
	case got := <-notified:
		assert.Equal(t, `/membership-changed {"event":"instances-changed","service":"visualization"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified of the membership change")
	}

	// removal is a membership change too
	require.NoError(t, r.RemoveInstance("visualization", "v1"))
	select {
	case got := <-notified:
		assert.Equal(t, `/membership-changed {"event":"instances-changed","service":"visualization"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified of the removal")
	}
}
