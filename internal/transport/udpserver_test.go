package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestUDPServer_PushesDatagrams(t *testing.T) {
	const port = 19220

	frames := make(chan []byte, 16)
	conn, err := New(TypeUDPServer, Options{
		DeviceName: "meter",
		Config:     Config{Host: "127.0.0.1", Port: port},
		OnData: func(_ string, data []byte) {
			frames <- data
		},
	})
	if err != nil {
		t.Fatalf("New(udpserver) error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	peer, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer peer.Close()

	for _, dgram := range []string{"power:230", "power:231"} {
		if _, err := peer.Write([]byte(dgram)); err != nil {
			t.Fatalf("peer write: %v", err)
		}
	}

	for _, want := range []string{"power:230", "power:231"} {
		select {
		case got := <-frames:
			if string(got) != want {
				t.Errorf("frame = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for datagram %q", want)
		}
	}
}

func TestUDPServer_SendIsRefused(t *testing.T) {
	conn, err := New(TypeUDPServer, Options{
		DeviceName: "meter",
		Config:     Config{Host: "127.0.0.1", Port: 19221},
		OnData:     func(string, []byte) {},
	})
	if err != nil {
		t.Fatalf("New(udpserver) error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Send(context.Background(), Payload{Body: "x"}); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() error = %v, want ErrSendFailed", err)
	}
}

func TestUDPServer_CloseIdempotent(t *testing.T) {
	conn, err := New(TypeUDPServer, Options{
		DeviceName: "meter",
		Config:     Config{Host: "127.0.0.1", Port: 19222},
		OnData:     func(string, []byte) {},
	})
	if err != nil {
		t.Fatalf("New(udpserver) error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !conn.Connected() {
		t.Error("Connected() = false after Open")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if conn.Connected() {
		t.Error("Connected() = true after Close")
	}
}
