package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/evetabi/lendpool/internal/domain"
)

var testSecret = []byte("ws-test-secret")

func signed(t *testing.T, sub, typ string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"type": typ,
		"exp":  time.Now().Add(time.Minute).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return tok
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) (MsgType, map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return MsgType(m["type"].(string)), m
}

func TestParseJWT(t *testing.T) {
	h := NewHub(testSecret, nil, nil, nil)
	assert.Equal(t, "acct-a", h.parseJWT(signed(t, "acct-a", "access")))
	assert.Empty(t, h.parseJWT(signed(t, "acct-a", "refresh")))
	assert.Empty(t, h.parseJWT("garbage"))

	other := NewHub([]byte("another-secret"), nil, nil, nil)
	assert.Empty(t, other.parseJWT(signed(t, "acct-a", "access")))
}

func TestHub_RoutesTransfersToReceiverOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(testSecret, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	owner := dial(t, srv, signed(t, "acct-a", "access"))
	defer owner.Close()
	anon := dial(t, srv, "")
	defer anon.Close()

	require.Eventually(t, func() bool { return hub.ConnectedCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastTransferStatus(&domain.Transfer{
		ID:         uuid.New(),
		PoolID:     1,
		TokenID:    "usdc.token",
		ReceiverID: "acct-a",
		Amount:     uint256.NewInt(500),
		Status:     domain.TransferSent,
		Attempts:   1,
	})
	hub.BroadcastPriceUpdate(&domain.PriceData{
		Timestamp:          time.Now().UnixNano(),
		RecencyDurationSec: 90,
		Prices: []domain.AssetPrice{{
			AssetID: "weth.token",
			Price:   &domain.Price{Multiplier: uint256.NewInt(200_000_000_000), Decimals: 8},
		}},
	})

	typ, msg := readType(t, owner)
	assert.Equal(t, MsgTypeTransferStatus, typ)
	assert.Equal(t, "500", msg["amount"])
	typ, _ = readType(t, owner)
	assert.Equal(t, MsgTypePriceUpdate, typ)

	// The anonymous client never sees the transfer.
	typ, msg = readType(t, anon)
	assert.Equal(t, MsgTypePriceUpdate, typ)
	prices := msg["prices"].([]interface{})
	require.Len(t, prices, 1)
	assert.Equal(t, "2000", prices[0].(map[string]interface{})["value"])

	cancel()
	<-hub.done
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHub_ServeAfterStopClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHub_OriginCheck(t *testing.T) {
	hub := NewHub(nil, []string{"https://app.example"}, nil, nil)
	ok := httptest.NewRequest(http.MethodGet, "/ws", nil)
	ok.Header.Set("Origin", "https://app.example")
	bad := httptest.NewRequest(http.MethodGet, "/ws", nil)
	bad.Header.Set("Origin", "https://evil.example")

	assert.True(t, hub.upgrader.CheckOrigin(ok))
	assert.False(t, hub.upgrader.CheckOrigin(bad))
}
