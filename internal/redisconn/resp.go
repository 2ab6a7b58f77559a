package redisconn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReplyType enumerates the subset of RESP types the assistant needs.
type ReplyType string

const (
	ReplySimpleString ReplyType = "+"
	ReplyBulkString   ReplyType = "$"
	ReplyInteger      ReplyType = ":"
	ReplyNil          ReplyType = "_"
	ReplyArray        ReplyType = "*"
)

// Reply is a parsed RESP response.
type Reply struct {
	Type     ReplyType
	Data     []byte
	Elements []Reply
}

// Text returns the reply payload as a string.
func (r Reply) Text() string { return string(r.Data) }

// Int returns the reply payload as an integer.
func (r Reply) Int() (int64, error) {
	return strconv.ParseInt(string(r.Data), 10, 64)
}

// Strings flattens an array reply of bulk strings.
func (r Reply) Strings() []string {
	out := make([]string, 0, len(r.Elements))
	for _, el := range r.Elements {
		out = append(out, string(el.Data))
	}
	return out
}

// ServerError is an error reply ("-ERR ...") from the server. Command-level
// failures such as OOM rejections arrive this way and do not indicate a
// broken connection.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// IsServerError reports whether err is a RESP error reply.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

func writeCommand(w *bufio.Writer, args []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(arg)); err != nil {
			return err
		}
		if _, err := w.WriteString(arg); err != nil {
			return err
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (Reply, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return Reply{}, err
	}
	switch prefix {
	case '+':
		line, err := readLine(r)
		return Reply{Type: ReplySimpleString, Data: line}, err
	case '-':
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		return Reply{}, &ServerError{Message: string(line)}
	case ':':
		line, err := readLine(r)
		return Reply{Type: ReplyInteger, Data: line}, err
	case '$':
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return Reply{}, fmt.Errorf("bad bulk length %q: %w", line, err)
		}
		if size == -1 {
			return Reply{Type: ReplyNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Reply{}, err
		}
		if err := expectCRLF(r); err != nil {
			return Reply{}, err
		}
		return Reply{Type: ReplyBulkString, Data: buf}, nil
	case '*':
		line, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		count, err := strconv.Atoi(string(line))
		if err != nil {
			return Reply{}, fmt.Errorf("bad array length %q: %w", line, err)
		}
		if count == -1 {
			return Reply{Type: ReplyNil}, nil
		}
		elements := make([]Reply, 0, count)
		for i := 0; i < count; i++ {
			el, err := readReply(r)
			if err != nil {
				return Reply{}, err
			}
			elements = append(elements, el)
		}
		return Reply{Type: ReplyArray, Elements: elements}, nil
	default:
		return Reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func expectCRLF(r *bufio.Reader) error {
	b1, err := r.ReadByte()
	if err != nil {
		return err
	}
	b2, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}
