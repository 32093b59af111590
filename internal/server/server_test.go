package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/internal/server"
	asrmock "github.com/arcvox/duplexd/pkg/provider/asr/mock"
	llmmock "github.com/arcvox/duplexd/pkg/provider/llm/mock"
	ttsmock "github.com/arcvox/duplexd/pkg/provider/tts/mock"
	"github.com/arcvox/duplexd/pkg/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	factory := func(r *http.Request) (server.SessionParams, error) {
		return server.SessionParams{
			ASR:   &asrmock.Provider{},
			LLM:   &llmmock.Provider{},
			TTS:   &ttsmock.Provider{},
			Voice: types.VoiceProfile{ID: "v1"},
		}, nil
	}
	srv := server.New(factory, nil, nil, nil, config.SessionConfig{IdleTimeout: time.Hour})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleWS_AcceptsConnectionAndRespondsToStart(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"command":"start"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected a text frame, got %v", typ)
	}
	if !strings.Contains(string(data), `"type":"status"`) {
		t.Fatalf("expected a status frame, got %s", data)
	}
}

func TestHandleWS_RejectsWhenFactoryErrors(t *testing.T) {
	factory := func(r *http.Request) (server.SessionParams, error) {
		return server.SessionParams{}, errFactory
	}
	srv := server.New(factory, nil, nil, nil, config.SessionConfig{})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

type factoryErr string

func (e factoryErr) Error() string { return string(e) }

var errFactory = factoryErr("no provider configured")
