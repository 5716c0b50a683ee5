package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNew_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", ServiceName: "roomchat", InstanceID: "node-a", Output: &buf})

	l.Debug().Msg("hidden")
	l.Info().Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "roomchat", entry[FieldService])
	assert.Equal(t, "node-a", entry[FieldInstance])
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	l := New(Config{Level: "trace", Output: &buf})

	assert.Equal(t, zerolog.WarnLevel, SetLevel("warn"))
	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	SetLevel("debug")
	l.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestForConn(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))
	ctx = ForConn(ctx, "c-1")

	l := Ctx(ctx)
	l.Info().Msg("hi")
	assert.Contains(t, buf.String(), `"conn_id":"c-1"`)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(GinMiddleware(zerolog.New(&buf)))
	r.GET("/rooms/:room", func(c *gin.Context) {
		l := Ctx(c.Request.Context())
		l.Info().Msg("inside")
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/rooms/lobby", nil)
	req.Header.Set(headerRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(headerRequestID))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"request_id":"req-42"`)

	var done map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[1], &done))
	assert.Equal(t, "warn", done["level"])
	assert.Equal(t, "lobby", done[FieldRoom])
	assert.EqualValues(t, 404, done[FieldStatus])
}
