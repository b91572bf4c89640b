package storetest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// RESP (Redis Serialization Protocol) type prefixes.
const (
	typeSimpleString = '+'
	typeError        = '-'
	typeInteger      = ':'
	typeBulkString   = '$'
	typeArray        = '*'
)

var crlf = []byte("\r\n")

// respError is written as a RESP error line ("-ERR ...").
type respError string

// readCommand reads one client command: an array of bulk strings.
func readCommand(r *bufio.Reader) (string, []string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", nil, err
	}
	if b != typeArray {
		return "", nil, fmt.Errorf("resp: expected array, got %q", b)
	}
	line, err := readLine(r)
	if err != nil {
		return "", nil, err
	}
	n, err := strconv.Atoi(string(line))
	if err != nil || n <= 0 {
		return "", nil, fmt.Errorf("resp: invalid array length")
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return "", nil, err
		}
		if b != typeBulkString {
			return "", nil, fmt.Errorf("resp: expected bulk string in array")
		}
		val, err := readBulkString(r)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, string(val))
	}
	return string(bytes.ToUpper([]byte(parts[0]))), parts[1:], nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) >= 2 && line[len(line)-2] == '\r' {
		return line[:len(line)-2], nil
	}
	return line[:len(line)-1], nil
}

func readBulkString(r *bufio.Reader) ([]byte, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(line))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("resp: invalid bulk string length")
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, fmt.Errorf("resp: bulk string not CRLF terminated")
	}
	return buf[:n], nil
}

// writeValue writes v as RESP2. Strings are bulk strings; *string nil is a nil bulk.
func writeValue(w io.Writer, v any) error {
	switch x := v.(type) {
	case nil:
		_, err := w.Write([]byte("$-1\r\n"))
		return err
	case respError:
		_, err := fmt.Fprintf(w, "-%s\r\n", string(x))
		return err
	case status:
		_, err := fmt.Fprintf(w, "+%s\r\n", string(x))
		return err
	case string:
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(x)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, x); err != nil {
			return err
		}
		_, err := w.Write(crlf)
		return err
	case int:
		_, err := fmt.Fprintf(w, ":%d\r\n", x)
		return err
	case int64:
		_, err := fmt.Fprintf(w, ":%d\r\n", x)
		return err
	case []any:
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(x)); err != nil {
			return err
		}
		for _, e := range x {
			if err := writeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	case []string:
		arr := make([]any, len(x))
		for i, s := range x {
			arr[i] = s
		}
		return writeValue(w, arr)
	default:
		return fmt.Errorf("resp write: unsupported type %T", v)
	}
}

// status is a simple string reply ("+OK").
type status string
