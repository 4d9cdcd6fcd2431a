package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/platform"
	"github.com/mailbridge/mailbridge/internal/store"
)

type fakeLister struct {
	channels []store.LinkedChannel
	err      error
}

func (f *fakeLister) ListConnected(ctx context.Context) ([]store.LinkedChannel, error) {
	return f.channels, f.err
}

type recordingDispatcher struct {
	mu       sync.Mutex
	accounts []string
	failFor  map[string]error
}

func (d *recordingDispatcher) DispatchReminder(ctx context.Context, ch store.LinkedChannel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = append(d.accounts, ch.EmailAccountID)
	if err, ok := d.failFor[ch.EmailAccountID]; ok {
		return err
	}
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.accounts...)
}

func TestRunOnceVisitsEveryChannel(t *testing.T) {
	lister := &fakeLister{channels: []store.LinkedChannel{
		{EmailAccountID: "acct-1", Provider: platform.TypeSlack, TeamID: "T1"},
		{EmailAccountID: "acct-2", Provider: platform.TypeTelegram, TeamID: "900"},
		{EmailAccountID: "acct-3", Provider: platform.TypeTeams, TeamID: "tenant-1"},
	}}
	dispatcher := &recordingDispatcher{}
	svc := NewService(nil, lister, dispatcher, "0 * * * *", 2)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.ElementsMatch(t, []string{"acct-1", "acct-2", "acct-3"}, dispatcher.dispatched())
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	lister := &fakeLister{channels: []store.LinkedChannel{
		{EmailAccountID: "acct-1", Provider: platform.TypeSlack},
		{EmailAccountID: "acct-2", Provider: platform.TypeSlack},
	}}
	dispatcher := &recordingDispatcher{failFor: map[string]error{
		"acct-1": errors.New("boom"),
	}}
	svc := NewService(nil, lister, dispatcher, "0 * * * *", 1)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.ElementsMatch(t, []string{"acct-1", "acct-2"}, dispatcher.dispatched())
}

func TestRunOnceSurfacesListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	svc := NewService(nil, lister, &recordingDispatcher{}, "0 * * * *", 1)

	err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := NewService(nil, &fakeLister{}, &recordingDispatcher{}, "not a schedule", 1)
	require.Error(t, svc.Start())
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []store.ReminderJob
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job store.ReminderJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

func TestOutboxDispatcherEnqueuesJob(t *testing.T) {
	outbox := &fakeEnqueuer{}
	d := NewOutboxDispatcher(nil, outbox)

	err := d.DispatchReminder(context.Background(), store.LinkedChannel{
		EmailAccountID: "acct-1",
		Provider:       platform.TypeSlack,
		TeamID:         "T1",
		ChannelID:      "D100",
	})
	require.NoError(t, err)
	require.Len(t, outbox.jobs, 1)
	assert.Equal(t, "acct-1", outbox.jobs[0].EmailAccountID)
	assert.Equal(t, platform.TypeSlack, outbox.jobs[0].Provider)
	assert.Equal(t, "T1", outbox.jobs[0].TeamID)
	assert.Equal(t, "D100", outbox.jobs[0].ThreadID)
}

func TestHTTPDispatcherPostsEvent(t *testing.T) {
	var got reminderRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(nil, server.URL, "secret-1")
	err := d.DispatchReminder(context.Background(), store.LinkedChannel{
		EmailAccountID: "acct-9",
		Provider:       platform.TypeTeams,
		TeamID:         "tenant-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-1", auth)
	assert.Equal(t, "acct-9", got.EmailAccountID)
	assert.Equal(t, "teams", got.Provider)
}

func TestHTTPDispatcherRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(nil, server.URL, "")
	err := d.DispatchReminder(context.Background(), store.LinkedChannel{EmailAccountID: "acct-1"})
	require.Error(t, err)
}

func TestFallbackDispatcherUsesSecondary(t *testing.T) {
	primary := &recordingDispatcher{failFor: map[string]error{"acct-1": errors.New("queue down")}}
	fallback := &recordingDispatcher{}
	d := NewFallbackDispatcher(nil, primary, fallback)

	err := d.DispatchReminder(context.Background(), store.LinkedChannel{EmailAccountID: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1"}, fallback.dispatched())
}

func TestFallbackDispatcherSkipsSecondaryOnSuccess(t *testing.T) {
	primary := &recordingDispatcher{}
	fallback := &recordingDispatcher{}
	d := NewFallbackDispatcher(nil, primary, fallback)

	err := d.DispatchReminder(context.Background(), store.LinkedChannel{EmailAccountID: "acct-2"})
	require.NoError(t, err)
	assert.Empty(t, fallback.dispatched())
}
