package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownCommand 信封合法但命令无法识别
var ErrUnknownCommand = errors.New("unknown command")

// DecodeError 入站字节无法解析（格式错误或被截断）
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope 线上格式：命令可以在不知道载荷结构的情况下先读出
type envelope struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload"`
}

// Encode 将消息编码为一条完整的 JSON 信封
func Encode(m Message) ([]byte, error) {
	if int(m.Command) >= len(commandNames) {
		return nil, errors.Errorf("encode: invalid command %d", m.Command)
	}
	if m.Payload == nil || !m.Payload.accepts(m.Command) {
		return nil, errors.Errorf("encode: payload %T does not match %s", m.Payload, m.Command)
	}
	body, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", m.Command)
	}
	b, err := json.Marshal(envelope{Cmd: m.Command.String(), Payload: body})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s envelope", m.Command)
	}
	return b, nil
}

// Decode 两阶段解码：先读信封拿到命令，再按命令解释载荷
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.Cmd == "" {
		return Message{}, &DecodeError{Reason: "missing cmd"}
	}
	cmd, ok := ParseCommand(env.Cmd)
	if !ok {
		return Message{}, errors.Wrapf(ErrUnknownCommand, "cmd %q", env.Cmd)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Message{}, &DecodeError{Reason: "missing payload for " + cmd.String()}
	}

	var payload Payload
	var err error
	switch cmd {
	case PlayerUpdate, InternalID, NewClientsInfo, Handshake:
		var p PlayerPayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case ServerUpdate, OldClientsInfo:
		var p SnapshotPayload
		err = json.Unmarshal(env.Payload, &p)
		if p.Players == nil {
			p.Players = []PlayerState{}
		}
		payload = p
	case Disconnected:
		var p DisconnectPayload
		err = json.Unmarshal(env.Payload, &p)
		if p.DeleteID == nil {
			p.DeleteID = []string{}
		}
		payload = p
	case PlayerInput:
		var p InputPayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	}
	if err != nil {
		return Message{}, &DecodeError{Reason: "malformed " + cmd.String() + " payload", Err: err}
	}
	return Message{Command: cmd, Payload: payload}, nil
}

// IsDecodeError 判断是否为解码失败
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
