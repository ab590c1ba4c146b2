package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func receive(t *testing.T, ch <-chan *nats.Msg) (*nats.Msg, Job) {
	t.Helper()
	select {
	case msg := <-ch:
		var j Job
		require.NoError(t, json.Unmarshal(msg.Data, &j))
		return msg, j
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job event")
		return nil, Job{}
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	nc := connect(t)
	r := NewRegistry(nc, "docqa.jobs", nil)

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("docqa.jobs.42.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	ctx := logging.WithRequestID(context.Background(), "req-1")
	job := r.Create(ctx, 42, "april.pdf")
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "req-1", job.RequestID)

	require.NoError(t, r.Started(job.ID))
	msg, got := receive(t, ch)
	assert.Equal(t, fmt.Sprintf("docqa.jobs.42.%s.started", job.ID), msg.Subject)
	assert.Equal(t, StatusRunning, got.Status)

	require.NoError(t, r.Complete(job.ID, 7))
	msg, got = receive(t, ch)
	assert.Equal(t, fmt.Sprintf("docqa.jobs.42.%s.completed", job.ID), msg.Subject)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(7), got.DocumentID)

	stored, err := r.Get(42, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finished())
}

func TestRegistry_Fail(t *testing.T) {
	nc := connect(t)
	r := NewRegistry(nc, "", nil)

	ch := make(chan *nats.Msg, 2)
	sub, err := nc.ChanSubscribe("docqa.jobs.*.*.failed", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	job := r.Create(context.Background(), 1, "scan.png")
	require.NoError(t, r.Fail(job.ID, errors.New("tesseract missing")))

	_, got := receive(t, ch)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "tesseract missing", got.Error)
}

func TestRegistry_WithoutNATS(t *testing.T) {
	r := NewRegistry(nil, "docqa.jobs", nil)
	job := r.Create(context.Background(), 1, "a.txt")
	require.NoError(t, r.Started(job.ID))
	require.NoError(t, r.Complete(job.ID, 3))

	got, err := r.Get(1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	nc, err := Connect("", nil)
	assert.NoError(t, err)
	assert.Nil(t, nc)
}

func TestRegistry_GetScopedToOwner(t *testing.T) {
	r := NewRegistry(nil, "docqa.jobs", nil)
	job := r.Create(context.Background(), 1, "a.txt")

	_, err := r.Get(2, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Started("missing"), ErrNotFound)
}

func TestRegistry_PrunesFinishedJobs(t *testing.T) {
	r := NewRegistry(nil, "docqa.jobs", nil)
	base := time.Now()
	r.now = func() time.Time { return base }

	done := r.Create(context.Background(), 1, "old.txt")
	require.NoError(t, r.Complete(done.ID, 1))
	running := r.Create(context.Background(), 1, "slow.txt")
	require.NoError(t, r.Started(running.ID))

	r.now = func() time.Time { return base.Add(2 * DefaultRetention) }
	r.Create(context.Background(), 1, "new.txt")

	_, err := r.Get(1, done.ID)
	assert.ErrorIs(t, err, ErrNotFound, "finished job past retention is pruned")
	_, err = r.Get(1, running.ID)
	assert.NoError(t, err, "unfinished jobs are kept")
}
