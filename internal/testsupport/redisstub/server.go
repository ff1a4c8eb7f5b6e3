// Package redisstub provides an in-process server speaking enough of the
// Redis protocol for the key/value and list operations this system uses, so
// tests can run real clients without an external Redis.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

type kvEntry struct {
	value  string
	expiry time.Time
}

type Server struct {
	listener net.Listener
	addr     string

	mu     sync.Mutex
	cond   *sync.Cond
	kv     map[string]*kvEntry
	lists  map[string][]string
	closed chan struct{}
}

// Start launches the stub on a random loopback port.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		listener: ln,
		addr:     ln.Addr().String(),
		kv:       make(map[string]*kvEntry),
		lists:    make(map[string][]string),
		closed:   make(chan struct{}),
	}
	server.cond = sync.NewCond(&server.mu)
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		if !s.dispatch(writer, args) {
			return
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	switch strings.ToUpper(args[0]) {
	case "PING":
		return writeSimpleString(writer, "PONG") == nil
	case "AUTH", "SELECT", "CLIENT", "RESET":
		return writeSimpleString(writer, "OK") == nil
	case "HELLO":
		// Clients fall back to RESP2 when HELLO is unsupported.
		return writeError(writer, "ERR unknown command 'HELLO'") == nil
	case "SET":
		return s.handleSet(writer, args)
	case "SETNX":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'setnx'") == nil
		}
		created := s.setIfAbsent(args[1], args[2])
		var value int64
		if created {
			value = 1
		}
		return writeInteger(writer, value) == nil
	case "GET":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'get'") == nil
		}
		value, ok := s.get(args[1])
		if !ok {
			return writeBulkNil(writer) == nil
		}
		return writeBulkString(writer, value) == nil
	case "EXISTS":
		var count int64
		for _, key := range args[1:] {
			if _, ok := s.get(key); ok {
				count++
			}
		}
		return writeInteger(writer, count) == nil
	case "DEL":
		return writeInteger(writer, s.del(args[1:])) == nil
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'") == nil
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(writer, "ERR value is not an integer or out of range") == nil
		}
		var value int64
		if s.expire(args[1], time.Duration(seconds)*time.Second) {
			value = 1
		}
		return writeInteger(writer, value) == nil
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'") == nil
		}
		return writeInteger(writer, s.ttl(args[1])) == nil
	case "KEYS":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'keys'") == nil
		}
		keys := s.keys(args[1])
		values := make([]interface{}, len(keys))
		for i, key := range keys {
			values[i] = key
		}
		return writeArray(writer, values) == nil
	case "LPUSH":
		if len(args) < 3 {
			return writeError(writer, "ERR wrong number of arguments for 'lpush'") == nil
		}
		return writeInteger(writer, s.lpush(args[1], args[2:])) == nil
	case "LLEN":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'llen'") == nil
		}
		return writeInteger(writer, s.llen(args[1])) == nil
	case "LRANGE":
		return s.handleLRange(writer, args)
	case "LREM":
		if len(args) != 4 {
			return writeError(writer, "ERR wrong number of arguments for 'lrem'") == nil
		}
		count, err := strconv.Atoi(args[2])
		if err != nil {
			return writeError(writer, "ERR value is not an integer or out of range") == nil
		}
		return writeInteger(writer, s.lrem(args[1], count, args[3])) == nil
	case "BRPOP":
		return s.handleBRPop(writer, args)
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0])) == nil
	}
}

func (s *Server) handleSet(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'set'") == nil
	}
	key, value := args[1], args[2]
	var ttl time.Duration
	nx := false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "EX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			seconds, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return writeError(writer, "ERR value is not an integer or out of range") == nil
			}
			ttl = time.Duration(seconds) * time.Second
			i++
		case "PX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			millis, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return writeError(writer, "ERR value is not an integer or out of range") == nil
			}
			ttl = time.Duration(millis) * time.Millisecond
			i++
		default:
			return writeError(writer, "ERR syntax error") == nil
		}
	}
	if nx {
		if !s.setIfAbsent(key, value) {
			return writeBulkNil(writer) == nil
		}
		if ttl > 0 {
			s.expire(key, ttl)
		}
		return writeSimpleString(writer, "OK") == nil
	}
	s.set(key, value, ttl)
	return writeSimpleString(writer, "OK") == nil
}

func (s *Server) handleLRange(writer *bufio.Writer, args []string) bool {
	if len(args) != 4 {
		return writeError(writer, "ERR wrong number of arguments for 'lrange'") == nil
	}
	start, err1 := strconv.Atoi(args[2])
	stop, err2 := strconv.Atoi(args[3])
	if err1 != nil || err2 != nil {
		return writeError(writer, "ERR value is not an integer or out of range") == nil
	}
	items := s.lrange(args[1], start, stop)
	values := make([]interface{}, len(items))
	for i, item := range items {
		values[i] = item
	}
	return writeArray(writer, values) == nil
}

func (s *Server) handleBRPop(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'brpop'") == nil
	}
	timeout, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil {
		return writeError(writer, "ERR timeout is not a float or out of range") == nil
	}
	keys := args[1 : len(args)-1]
	key, value, ok := s.brpop(keys, timeout)
	if !ok {
		return writeBulkNil(writer) == nil
	}
	return writeArray(writer, []interface{}{key, value}) == nil
}

func (s *Server) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &kvEntry{value: value}
	if ttl > 0 {
		entry.expiry = time.Now().Add(ttl)
	}
	s.kv[key] = entry
}

func (s *Server) setIfAbsent(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.kv[key]; ok && !expired(entry) {
		return false
	}
	s.kv[key] = &kvEntry{value: value}
	return true
}

func (s *Server) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		if items, isList := s.lists[key]; isList && len(items) > 0 {
			// EXISTS treats any live key the same; lists report presence.
			return "", true
		}
		return "", false
	}
	if expired(entry) {
		delete(s.kv, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, key := range keys {
		if entry, ok := s.kv[key]; ok {
			delete(s.kv, key)
			if !expired(entry) {
				count++
			}
			continue
		}
		if items, ok := s.lists[key]; ok {
			delete(s.lists, key)
			if len(items) > 0 {
				count++
			}
		}
	}
	return count
}

func (s *Server) expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok || expired(entry) {
		return false
	}
	entry.expiry = time.Now().Add(ttl)
	return true
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func (s *Server) keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key, entry := range s.kv {
		if expired(entry) {
			delete(s.kv, key)
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			out = append(out, key)
		}
	}
	for key, items := range s.lists {
		if len(items) == 0 {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			out = append(out, key)
		}
	}
	return out
}

func (s *Server) lpush(key string, values []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	for _, value := range values {
		list = append([]string{value}, list...)
	}
	s.lists[key] = list
	s.cond.Broadcast()
	return int64(len(list))
}

func (s *Server) llen(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key]))
}

func (s *Server) lrange(key string, start, stop int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := len(list)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out
}

func (s *Server) lrem(key string, count int, value string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	var removed int64
	out := list[:0]
	for _, item := range list {
		if item == value && (count == 0 || removed < int64(count)) {
			removed++
			continue
		}
		out = append(out, item)
	}
	s.lists[key] = out
	return removed
}

func (s *Server) brpop(keys []string, timeout float64) (string, string, bool) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(time.Duration(timeout * float64(time.Second)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for _, key := range keys {
			list := s.lists[key]
			if len(list) == 0 {
				continue
			}
			value := list[len(list)-1]
			s.lists[key] = list[:len(list)-1]
			return key, value, true
		}
		select {
		case <-s.closed:
			return "", "", false
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", "", false
		}
		// Wake periodically so timeouts and shutdown are observed even
		// without a push.
		waker := time.AfterFunc(50*time.Millisecond, s.cond.Broadcast)
		s.cond.Wait()
		waker.Stop()
	}
}

func expired(entry *kvEntry) bool {
	return !entry.expiry.IsZero() && time.Now().After(entry.expiry)
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		// go-redis may send inline commands during handshake probing.
		if err := r.UnreadByte(); err != nil {
			return nil, err
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line == "" {
			return nil, nil
		}
		return strings.Fields(line), nil
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v); err != nil {
				return err
			}
		case int64:
			if _, err := fmt.Fprintf(w, ":%d\r\n", v); err != nil {
				return err
			}
		default:
			text := fmt.Sprint(v)
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(text), text); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
