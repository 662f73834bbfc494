// ABOUTME: End-to-end controller test over HTTP against the in-memory fake backend.
package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/fakebackend"
)

func TestControllerAgainstFakeBackend(t *testing.T) {
	srv := fakebackend.New(fakebackend.WithScript(func(ctx context.Context, b *fakebackend.Build) (string, error) {
		b.Log("[plan] Reading project context")
		answer, _ := b.Ask(ctx, "Which color theme?")
		b.Log("[generate] Theme: " + answer)
		return "Build complete", nil
	}))
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	client := backend.New(hs.URL)
	c := NewController(client)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	_, err := c.SelectProject(ctx, "Space Quiz")
	require.NoError(t, err)
	require.NoError(t, c.Submit(ctx, "add a timer", nil))

	require.Eventually(t, func() bool { return c.State().Phase == PhaseAwaitingAnswer }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Which color theme?", c.State().Question)
	require.NoError(t, c.Answer(ctx, "dark"))

	require.Eventually(t, func() bool { return c.State().Phase == PhaseCompleted }, 5*time.Second, 5*time.Millisecond)
	st := c.State()
	assert.Equal(t, []string{"[plan] Reading project context", "[generate] Theme: dark"}, st.Transcript)
	assert.Equal(t, "Build complete", st.Message)

	require.Eventually(t, func() bool {
		hist, err := client.FetchHistory(ctx, "space_quiz")
		return err == nil && len(hist) == 1 && hist[0].Outcome == backend.OutcomeSuccess
	}, 5*time.Second, 10*time.Millisecond)

	snaps, err := client.ListSnapshots(ctx, "space_quiz")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestControllerStopAgainstFakeBackend(t *testing.T) {
	srv := fakebackend.New(fakebackend.WithScript(func(ctx context.Context, b *fakebackend.Build) (string, error) {
		b.Log("working")
		<-b.StopRequested()
		return "", fakebackend.ErrStopped
	}))
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	c := NewController(backend.New(hs.URL))
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	_, err := c.SelectProject(ctx, "quiz")
	require.NoError(t, err)
	require.NoError(t, c.Submit(ctx, "go", nil))
	require.Eventually(t, func() bool { return len(c.State().Transcript) == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(ctx))
	require.Eventually(t, func() bool { return c.State().Phase == PhaseStopped }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, fakebackend.StoppedMessage, c.State().Message)
	assert.True(t, c.State().InteractionAllowed)
}
