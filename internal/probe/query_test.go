package probe

import (
	"net"
	"strconv"
	"testing"
	"time"
)

// fakeQueryServer answers the handshake and full-stat exchanges the way a
// game server does.
func fakeQueryServer(t *testing.T, players []string) (string, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if n < 3 || buf[0] != 0xFE || buf[1] != 0xFD {
				continue
			}
			switch buf[2] {
			case queryTypeHandshake:
				resp := append([]byte{queryTypeHandshake}, querySession[:]...)
				resp = append(resp, []byte("9513307\x00")...)
				_, _ = conn.WriteTo(resp, addr)
			case queryTypeStat:
				resp := append([]byte{queryTypeStat}, querySession[:]...)
				resp = append(resp, make([]byte, 11)...) // padding
				kv := map[string]string{
					"hostname":   "A Minecraft Server",
					"numplayers": strconv.Itoa(len(players)),
					"maxplayers": "20",
				}
				for k, v := range kv {
					resp = append(resp, []byte(k)...)
					resp = append(resp, 0)
					resp = append(resp, []byte(v)...)
					resp = append(resp, 0)
				}
				resp = append(resp, 0)                   // end of kv section
				resp = append(resp, make([]byte, 10)...) // player header
				for _, p := range players {
					resp = append(resp, []byte(p)...)
					resp = append(resp, 0)
				}
				resp = append(resp, 0)
				_, _ = conn.WriteTo(resp, addr)
			}
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func TestQueryFullStat(t *testing.T) {
	host, port := fakeQueryServer(t, []string{"alice", "bob"})

	res, err := QueryClient{Timeout: 2 * time.Second}.Query(host, port)
	if err != nil {
		t.Fatal(err)
	}
	if res.Players != 2 || res.MaxPlayers != 20 {
		t.Fatalf("counts: %+v", res)
	}
	if len(res.PlayerNames) != 2 || res.PlayerNames[0] != "alice" {
		t.Fatalf("names: %v", res.PlayerNames)
	}
	if res.MOTD != "A Minecraft Server" {
		t.Fatalf("motd: %q", res.MOTD)
	}
}

func TestQueryEmptyServer(t *testing.T) {
	host, port := fakeQueryServer(t, nil)

	res, err := QueryClient{Timeout: 2 * time.Second}.Query(host, port)
	if err != nil {
		t.Fatal(err)
	}
	if res.Players != 0 || len(res.PlayerNames) != 0 {
		t.Fatalf("empty server: %+v", res)
	}
}

func TestQueryUnreachable(t *testing.T) {
	// Nobody listens here; the client must fail within its timeout.
	start := time.Now()
	_, err := QueryClient{Timeout: 500 * time.Millisecond}.Query("127.0.0.1", 1)
	if err == nil {
		t.Fatal("expected an error against a closed port")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout not honored")
	}
}
