package fetcher

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeFTP answers the handful of commands a RETR session needs and serves
// in-memory files over an extended passive data connection.
type fakeFTP struct {
	ln    net.Listener
	files map[string]string
	wg    sync.WaitGroup

	mu    sync.Mutex
	users []string
}

func startFakeFTP(t *testing.T, files map[string]string) *fakeFTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeFTP{ln: ln, files: files}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.session(c)
			}()
		}
	}()
	t.Cleanup(s.stop)
	return s
}

func (s *fakeFTP) addr() string { return s.ln.Addr().String() }

func (s *fakeFTP) stop() {
	_ = s.ln.Close()
	s.wg.Wait()
}

// logins returns the user names seen so far.
func (s *fakeFTP) logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

func (s *fakeFTP) session(c net.Conn) {
	defer c.Close() //nolint:errcheck
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))

	r := bufio.NewReader(c)
	reply := func(format string, args ...any) {
		_, _ = fmt.Fprintf(c, format+"\r\n", args...)
	}

	var data net.Listener
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	reply("220 ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch strings.ToUpper(verb) {
		case "USER":
			s.mu.Lock()
			s.users = append(s.users, arg)
			s.mu.Unlock()
			reply("331 password required")
		case "PASS":
			reply("230 logged in")
		case "FEAT":
			reply("211 no features")
		case "TYPE", "OPTS":
			reply("200 ok")
		case "EPSV":
			if data != nil {
				_ = data.Close()
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "RETR":
			body, ok := s.files[arg]
			if !ok || data == nil {
				reply("550 %s: no such file", arg)
				continue
			}
			reply("150 opening data connection")
			dc, err := data.Accept()
			if err != nil {
				reply("425 data connection failed")
				continue
			}
			_, _ = io.WriteString(dc, body)
			_ = dc.Close()
			_ = data.Close()
			data = nil
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 %s not implemented", verb)
		}
	}
}
