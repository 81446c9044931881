package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onlyPlay(origin string) bool { return origin == "http://play.example" }

func TestUpgrader_CheckOrigin(t *testing.T) {
	u := newUpgrader(onlyPlay)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, u.CheckOrigin(req), "no Origin header")

	req.Header.Set("Origin", "http://play.example")
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, u.CheckOrigin(req))
}

func TestServeWs_RejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(NewHub(nil, nil, nil), nil, nil, onlyPlay))
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://play.example"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "ping"}))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Event)
	_ = conn.Close()
}
