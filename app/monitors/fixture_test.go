package monitors

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/database"
	"github.com/lysyi3m/webmoniter/app/notify"
	"github.com/lysyi3m/webmoniter/app/probe"
)

type memSnapshots struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]string
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: map[string]map[string]map[string]string{}}
}

func (m *memSnapshots) GetSnapshot(ctx context.Context, platform, entityID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[platform][entityID], nil
}

func (m *memSnapshots) SaveSnapshot(ctx context.Context, platform, entityID string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[platform] == nil {
		m.data[platform] = map[string]map[string]string{}
	}
	m.data[platform][entityID] = data
	return nil
}

func (m *memSnapshots) CountSnapshots(ctx context.Context, platform string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[platform]), nil
}

func (m *memSnapshots) DeleteSnapshots(ctx context.Context, platform string, entityIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range entityIDs {
		if _, ok := m.data[platform][id]; ok {
			delete(m.data[platform], id)
			n++
		}
	}
	return n, nil
}

func (m *memSnapshots) ListSnapshots(ctx context.Context, platform string) ([]database.Snapshot, error) {
	return nil, nil
}

type fakeSender struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (f *fakeSender) Send(ctx context.Context, req notify.Request, only []string) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return notify.Result{Results: map[string]notify.Delivery{}}
}

func (f *fakeSender) sent() []notify.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Request(nil), f.requests...)
}

type harness struct {
	snapshots *memSnapshots
	creds     *credential.Cache
	sender    *fakeSender
	runner    *probe.Runner
}

func newHarness(t *testing.T, p probe.Probe, cfg *config.Config, client *http.Client) *harness {
	t.Helper()
	h := &harness{
		snapshots: newMemSnapshots(),
		creds:     credential.NewCache(filepath.Join(t.TempDir(), credential.FileName)),
		sender:    &fakeSender{},
	}
	h.runner = probe.NewRunner(p, probe.Deps{
		Config:      config.NewStore(cfg),
		Snapshots:   h.snapshots,
		Credentials: h.creds,
		Sender:      h.sender,
		Client:      client,
	})
	return h
}
