package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/code-100-precent/LingClassroom/pkg/config"
	"github.com/code-100-precent/LingClassroom/pkg/notification"
	"github.com/code-100-precent/LingClassroom/pkg/room"
	"github.com/code-100-precent/LingClassroom/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	api := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(api.Close)

	cfg := config.Default()
	cfg.APIBaseURL = api.URL
	s, err := session.New(cfg, "u1")
	require.NoError(t, err)
	t.Cleanup(s.Close)

	var out bytes.Buffer
	c := &console{out: &out, name: "Tester", session: s}
	require.NoError(t, c.wire("general"))
	return c, &out
}

func TestConsoleCommands(t *testing.T) {
	c, out := newConsole(t)
	ctx := context.Background()

	assert.True(t, c.handle(ctx, "hello"))
	assert.Contains(t, out.String(), "not connected, message dropped")

	assert.True(t, c.handle(ctx, "/refresh"))
	assert.Contains(t, out.String(), "refresh failed")

	assert.True(t, c.handle(ctx, "/room math"))
	assert.Equal(t, "math", c.current().RoomID())

	_, err := c.session.Notifications().Add(notification.Request{Title: "Heads up"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "! [info] Heads up")
	assert.True(t, c.handle(ctx, "/clear"))
	assert.Empty(t, c.session.Notifications().List())

	assert.True(t, c.handle(ctx, "   "))
	assert.False(t, c.handle(ctx, "/quit"))
}

func TestConsoleRender(t *testing.T) {
	c, out := newConsole(t)
	view := []room.ChatEntry{
		{Sender: "Alice", Message: "hi"},
		{Sender: "Tester", Message: "hey", IsOwn: true},
	}
	c.render(view[:1])
	c.render(view)
	assert.Equal(t, "  Alice: hi\n> Tester: hey\n", out.String())
}
