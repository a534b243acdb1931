package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// QueryResult is the decoded full-stat response from the game server's
// query port.
type QueryResult struct {
	Players     int
	MaxPlayers  int
	PlayerNames []string
	MOTD        string
}

// QueryClient speaks the UDP query protocol (handshake + full stat).
// A zero value is usable; Timeout defaults to 3s.
type QueryClient struct {
	Timeout time.Duration
}

const (
	queryTypeHandshake = 0x09
	queryTypeStat      = 0x00
)

// Session identifier sent with every datagram. The protocol masks each byte
// with 0x0F, so keep the bytes within that range.
var querySession = [4]byte{0x00, 0x00, 0x00, 0x01}

// Query performs the handshake and full-stat exchange. Any connect, timeout
// or malformed-response condition is returned as a single error class; the
// caller treats all of them as "not reachable".
func (c QueryClient) Query(host string, port int) (*QueryResult, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return nil, fmt.Errorf("query dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	deadline := time.Now().Add(timeout)
	_ = conn.SetDeadline(deadline)

	token, err := handshake(conn)
	if err != nil {
		return nil, err
	}
	return fullStat(conn, token)
}

func handshake(conn net.Conn) (int32, error) {
	req := append([]byte{0xFE, 0xFD, queryTypeHandshake}, querySession[:]...)
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("query handshake: %w", err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("query handshake: %w", err)
	}
	if n < 6 || buf[0] != queryTypeHandshake {
		return 0, fmt.Errorf("query handshake: malformed response")
	}
	// Challenge token is a null-terminated ASCII integer after type+session.
	end := bytes.IndexByte(buf[5:n], 0)
	if end < 0 {
		end = n - 5
	}
	tok, err := strconv.ParseInt(string(buf[5:5+end]), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("query handshake: bad challenge token: %w", err)
	}
	return int32(tok), nil
}

func fullStat(conn net.Conn, token int32) (*QueryResult, error) {
	req := make([]byte, 0, 15)
	req = append(req, 0xFE, 0xFD, queryTypeStat)
	req = append(req, querySession[:]...)
	req = binary.BigEndian.AppendUint32(req, uint32(token))
	req = append(req, 0x00, 0x00, 0x00, 0x00) // full-stat padding
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("query stat: %w", err)
	}

	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("query stat: %w", err)
	}
	if n < 16 || buf[0] != queryTypeStat {
		return nil, fmt.Errorf("query stat: malformed response")
	}
	return parseFullStat(buf[16:n]) // skip type(1) + session(4) + padding(11)
}

// parseFullStat decodes the key/value section followed by the player list.
func parseFullStat(payload []byte) (*QueryResult, error) {
	res := &QueryResult{}
	kv, rest, err := readKVSection(payload)
	if err != nil {
		return nil, err
	}
	res.MOTD = kv["hostname"]
	if v, err := strconv.Atoi(kv["numplayers"]); err == nil {
		res.Players = v
	}
	if v, err := strconv.Atoi(kv["maxplayers"]); err == nil {
		res.MaxPlayers = v
	}

	// Player section: 10-byte header then null-terminated names, ended by
	// an empty string.
	if len(rest) > 10 {
		rest = rest[10:]
		for len(rest) > 0 {
			i := bytes.IndexByte(rest, 0)
			if i <= 0 {
				break
			}
			name := string(rest[:i])
			if strings.TrimSpace(name) != "" {
				res.PlayerNames = append(res.PlayerNames, name)
			}
			rest = rest[i+1:]
		}
	}
	return res, nil
}

func readKVSection(payload []byte) (map[string]string, []byte, error) {
	kv := make(map[string]string)
	rest := payload
	for {
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return nil, nil, fmt.Errorf("query stat: truncated key section")
		}
		key := string(rest[:i])
		rest = rest[i+1:]
		if key == "" {
			return kv, rest, nil
		}
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return nil, nil, fmt.Errorf("query stat: truncated value section")
		}
		kv[key] = string(rest[:j])
		rest = rest[j+1:]
	}
}
