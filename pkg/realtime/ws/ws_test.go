package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docloom/collab-sdk/pkg/logging"
)

func newTestServer(t *testing.T, onMessage func(*websocket.Conn, []byte)) (*httptest.Server, func() *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, data)
			}
		}
	}))
	return srv, func() *websocket.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(time.Second):
			t.Fatal("server never accepted a connection")
			return nil
		}
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSubscribeReceivesDemultiplexedFrame(t *testing.T) {
	srv, awaitConn := newTestServer(t, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv.URL), logging.NoOpLogger{})
	require.NoError(t, err)
	defer client.Close()

	serverConn := awaitConn()

	received := make(chan []byte, 1)
	_, err = client.Subscribe(context.Background(), "doc-a", func(update []byte) {
		received <- update
	})
	require.NoError(t, err)

	env := envelope{DocID: "doc-a", Payload: base64.StdEncoding.EncodeToString([]byte("update-bytes"))}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-received:
		assert.Equal(t, "update-bytes", string(got))
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the frame")
	}
}

func TestSubscribeIgnoresOtherDocuments(t *testing.T) {
	srv, awaitConn := newTestServer(t, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv.URL), logging.NoOpLogger{})
	require.NoError(t, err)
	defer client.Close()

	serverConn := awaitConn()

	receivedA := make(chan []byte, 1)
	receivedOther := make(chan []byte, 1)
	_, err = client.Subscribe(context.Background(), "doc-a", func(update []byte) { receivedA <- update })
	require.NoError(t, err)
	_, err = client.Subscribe(context.Background(), "doc-b", func(update []byte) { receivedOther <- update })
	require.NoError(t, err)

	env := envelope{DocID: "doc-a", Payload: base64.StdEncoding.EncodeToString([]byte("for-a"))}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-receivedA:
		assert.Equal(t, "for-a", string(got))
	case <-time.After(time.Second):
		t.Fatal("doc-a subscriber never received its frame")
	}
	select {
	case <-receivedOther:
		t.Fatal("doc-b subscriber must not receive doc-a's frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv, awaitConn := newTestServer(t, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv.URL), logging.NoOpLogger{})
	require.NoError(t, err)
	defer client.Close()

	serverConn := awaitConn()

	received := make(chan []byte, 2)
	unsub, err := client.Subscribe(context.Background(), "doc-a", func(update []byte) { received <- update })
	require.NoError(t, err)
	unsub()

	env := envelope{DocID: "doc-a", Payload: base64.StdEncoding.EncodeToString([]byte("after-unsub"))}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, data))

	select {
	case <-received:
		t.Fatal("unsubscribed handler must not receive frames")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSendsEnvelope(t *testing.T) {
	serverGot := make(chan envelope, 1)
	srv, _ := newTestServer(t, func(conn *websocket.Conn, data []byte) {
		var env envelope
		if err := json.Unmarshal(data, &env); err == nil {
			serverGot <- env
		}
	})
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv.URL), logging.NoOpLogger{})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Publish(context.Background(), "doc-z", []byte("payload-z")))

	select {
	case env := <-serverGot:
		assert.Equal(t, "doc-z", env.DocID)
		decoded, err := base64.StdEncoding.DecodeString(env.Payload)
		require.NoError(t, err)
		assert.Equal(t, "payload-z", string(decoded))
	case <-time.After(time.Second):
		t.Fatal("server never received the published frame")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv.URL), logging.NoOpLogger{})
	require.NoError(t, err)
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}
