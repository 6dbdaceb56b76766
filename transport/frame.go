package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/busforge/dbus/wire"
)

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeFrame(msg *wire.Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Type))
	buf.WriteByte(byte(msg.Flags))
	binary.Write(&buf, binary.BigEndian, msg.Serial)
	binary.Write(&buf, binary.BigEndian, msg.ReplySerial)
	putString(&buf, string(msg.Path))
	putString(&buf, msg.Interface)
	putString(&buf, msg.Member)
	putString(&buf, msg.Destination)
	putString(&buf, msg.Sender)
	putString(&buf, msg.ErrorName)
	putString(&buf, string(msg.Signature))

	trees, err := wire.ParseAll(string(msg.Signature))
	if err != nil {
		return nil, fmt.Errorf("transport: bad signature %q: %w", msg.Signature, err)
	}
	if err := wire.DefaultCodec.EncodeMulti(&buf, trees, msg.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrame(payload []byte) (*wire.Message, error) {
	r := bytes.NewReader(payload)
	msg := new(wire.Message)

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	msg.Type = wire.MessageType(typeByte)
	flagsByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	msg.Flags = wire.Flags(flagsByte)
	if err := binary.Read(r, binary.BigEndian, &msg.Serial); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &msg.ReplySerial); err != nil {
		return nil, err
	}
	path, err := getString(r)
	if err != nil {
		return nil, err
	}
	msg.Path = wire.ObjectPath(path)
	if msg.Interface, err = getString(r); err != nil {
		return nil, err
	}
	if msg.Member, err = getString(r); err != nil {
		return nil, err
	}
	if msg.Destination, err = getString(r); err != nil {
		return nil, err
	}
	if msg.Sender, err = getString(r); err != nil {
		return nil, err
	}
	if msg.ErrorName, err = getString(r); err != nil {
		return nil, err
	}
	sig, err := getString(r)
	if err != nil {
		return nil, err
	}
	msg.Signature = wire.Signature(sig)

	trees, err := wire.ParseAll(sig)
	if err != nil {
		return nil, fmt.Errorf("transport: bad signature %q: %w", sig, err)
	}
	msg.Body, err = wire.DefaultCodec.DecodeMulti(r, trees)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
