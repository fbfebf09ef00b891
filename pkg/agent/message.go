package agent

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// NamedPipePath is where the agent listens on Windows.
const NamedPipePath = "\\\\.\\pipe\\pivman-agent"

// DefaultSocketPath returns the agent's Unix socket location.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pivman-agent.sock")
	}
	return filepath.Join(os.TempDir(), "pivman-agent.sock")
}

type Command byte

const (
	CommandError Command = iota
	CommandHello
	CommandGetObject
	CommandPutObject
	CommandVerifyPIN
	CommandPINAttempts
	CommandAuthenticate
	CommandChangePIN
	CommandChangePUK
	CommandUnblockPIN
	CommandSetPINAttempts
	CommandSetManagementKey
	CommandReset
)

// Message is one frame on the agent connection: a command byte, a big-endian
// length and a CBOR payload.
type Message struct {
	Command Command
	length  uint16
	Data    []byte
}

func ParseMessage(conn io.Reader) (*Message, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[1:])

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, data); err != nil {
			return nil, err
		}
	}

	return &Message{
		Command: Command(header[0]),
		length:  length,
		Data:    data,
	}, nil
}

func NewMessage(cmd Command, payload any) (*Message, error) {
	return newMessage(encMode, cmd, payload)
}

func newMessage(enc cbor.EncMode, cmd Command, payload any) (*Message, error) {
	msg := &Message{
		Command: cmd,
	}

	b := make([]byte, 0)
	var err error
	if payload != nil {
		b, err = enc.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	msg.length = uint16(len(b))
	msg.Data = b

	return msg, nil
}

func (m *Message) WriteTo(w io.Writer) (n int64, err error) {
	totalLen := 0

	cmdLen, err := w.Write([]byte{byte(m.Command)})
	if err != nil {
		return 0, err
	}
	totalLen += cmdLen

	bLen := make([]byte, 2)
	binary.BigEndian.PutUint16(bLen, m.length)
	lengthLen, err := w.Write(bLen)
	if err != nil {
		return 0, err
	}
	totalLen += lengthLen

	dataLen, err := w.Write(m.Data)
	if err != nil {
		return 0, err
	}
	totalLen += dataLen

	return int64(totalLen), nil
}
