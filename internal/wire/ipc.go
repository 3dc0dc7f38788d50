package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// IpcMessage is the frozen IPC payload union (spec.md §6.2):
// `IpcMessage = Event | IpcString{key, value}`. Exactly one of Event or
// String is meaningful, selected by Kind.
type IpcMessage struct {
	Kind   IpcKind
	Event  Event
	String IpcString
}

// IpcKind discriminates the IpcMessage union.
type IpcKind uint8

const (
	IpcKindEvent IpcKind = iota
	IpcKindString
)

// IpcString interns one producer-scoped string under key, consumed by
// the IPC server's Interner.
type IpcString struct {
	Key   uint64
	Value string
}

// maxFrameSize bounds a single length-prefixed frame, guarding the
// decoder against a corrupt or hostile length header.
const maxFrameSize = 16 << 20

// WriteIpcMessage encodes msg as one length-prefixed frame: a
// big-endian uint32 byte count followed by the encoded message, per
// spec.md §6.2's "messages are length-prefixed".
func WriteIpcMessage(w io.Writer, msg IpcMessage) error {
	body := encodeIpcMessage(msg)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadIpcMessage decodes one length-prefixed frame from r.
func ReadIpcMessage(r *bufio.Reader) (IpcMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return IpcMessage{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return IpcMessage{}, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return IpcMessage{}, fmt.Errorf("wire: read frame body: %w", err)
	}
	return decodeIpcMessage(body)
}

func encodeIpcMessage(msg IpcMessage) []byte {
	var buf []byte
	buf = append(buf, byte(msg.Kind))
	switch msg.Kind {
	case IpcKindEvent:
		buf = appendEvent(buf, msg.Event)
	case IpcKindString:
		buf = appendUint64(buf, msg.String.Key)
		buf = appendString(buf, msg.String.Value)
	}
	return buf
}

func decodeIpcMessage(body []byte) (IpcMessage, error) {
	if len(body) < 1 {
		return IpcMessage{}, fmt.Errorf("wire: empty ipc frame")
	}
	kind := IpcKind(body[0])
	rest := body[1:]
	switch kind {
	case IpcKindEvent:
		ev, _, err := takeEvent(rest)
		if err != nil {
			return IpcMessage{}, err
		}
		return IpcMessage{Kind: kind, Event: ev}, nil
	case IpcKindString:
		key, rest, err := takeUint64(rest)
		if err != nil {
			return IpcMessage{}, err
		}
		val, _, err := takeString(rest)
		if err != nil {
			return IpcMessage{}, err
		}
		return IpcMessage{Kind: kind, String: IpcString{Key: key, Value: val}}, nil
	default:
		return IpcMessage{}, fmt.Errorf("wire: unknown ipc message kind %d", kind)
	}
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendEventId(buf []byte, id EventId) []byte {
	buf = appendUint64(buf, id.Hi)
	buf = appendUint64(buf, id.Lo)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendEvent(buf []byte, ev Event) []byte {
	buf = appendEventId(buf, ev.UniqueId)
	buf = appendEventId(buf, ev.ParentId)
	buf = appendEventId(buf, ev.CorrelationId)
	buf = appendUint64(buf, uint64(ev.Type))
	buf = appendUint64(buf, uint64(ev.ProcessId))
	buf = appendUint64(buf, uint64(ev.ThreadId))
	buf = appendUint64(buf, ev.TimeEnabled)
	buf = appendUint64(buf, ev.TimeRunning)
	buf = appendUint64(buf, ev.Timestamp)
	buf = appendUint64(buf, ev.Value)
	buf = appendUint64(buf, ev.IP)

	buf = appendUint64(buf, uint64(len(ev.Callstack)))
	for _, f := range ev.Callstack {
		if f.Resolved {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendEventId(buf, f.Location.FunctionName)
		buf = appendEventId(buf, f.Location.FileName)
		buf = appendUint64(buf, uint64(f.Location.Line))
		buf = appendUint64(buf, f.IP)
	}

	buf = appendUint64(buf, uint64(len(ev.Metadata)))
	for _, m := range ev.Metadata {
		buf = appendEventId(buf, m.Key)
		if m.Value.IsString {
			buf = append(buf, 1)
			buf = appendEventId(buf, m.Value.String)
		} else {
			buf = append(buf, 0)
			buf = appendUint64(buf, m.Value.Integer)
		}
	}
	return buf
}

func takeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("wire: short buffer reading uint64")
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func takeEventId(buf []byte) (EventId, []byte, error) {
	hi, buf, err := takeUint64(buf)
	if err != nil {
		return EventId{}, nil, err
	}
	lo, buf, err := takeUint64(buf)
	if err != nil {
		return EventId{}, nil, err
	}
	return EventId{Hi: hi, Lo: lo}, buf, nil
}

func takeString(buf []byte) (string, []byte, error) {
	n, buf, err := takeUint64(buf)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(buf)) < n {
		return "", nil, fmt.Errorf("wire: short buffer reading string of length %d", n)
	}
	return string(buf[:n]), buf[n:], nil
}

func takeEvent(buf []byte) (Event, []byte, error) {
	var ev Event
	var err error

	if ev.UniqueId, buf, err = takeEventId(buf); err != nil {
		return ev, nil, err
	}
	if ev.ParentId, buf, err = takeEventId(buf); err != nil {
		return ev, nil, err
	}
	if ev.CorrelationId, buf, err = takeEventId(buf); err != nil {
		return ev, nil, err
	}
	var v uint64
	if v, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	ev.Type = EventType(v)
	if v, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	ev.ProcessId = uint32(v)
	if v, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	ev.ThreadId = uint32(v)
	if ev.TimeEnabled, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	if ev.TimeRunning, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	if ev.Timestamp, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	if ev.Value, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	if ev.IP, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}

	var nFrames uint64
	if nFrames, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	ev.Callstack = make([]CallFrame, nFrames)
	for i := range ev.Callstack {
		if len(buf) < 1 {
			return ev, nil, fmt.Errorf("wire: short buffer reading callframe flag")
		}
		resolved := buf[0] == 1
		buf = buf[1:]
		var fn, file EventId
		if fn, buf, err = takeEventId(buf); err != nil {
			return ev, nil, err
		}
		if file, buf, err = takeEventId(buf); err != nil {
			return ev, nil, err
		}
		var line uint64
		if line, buf, err = takeUint64(buf); err != nil {
			return ev, nil, err
		}
		var ip uint64
		if ip, buf, err = takeUint64(buf); err != nil {
			return ev, nil, err
		}
		ev.Callstack[i] = CallFrame{
			Resolved: resolved,
			Location: Location{FunctionName: fn, FileName: file, Line: uint32(line)},
			IP:       ip,
		}
	}

	var nMeta uint64
	if nMeta, buf, err = takeUint64(buf); err != nil {
		return ev, nil, err
	}
	ev.Metadata = make([]Metadata, nMeta)
	for i := range ev.Metadata {
		var key EventId
		if key, buf, err = takeEventId(buf); err != nil {
			return ev, nil, err
		}
		if len(buf) < 1 {
			return ev, nil, fmt.Errorf("wire: short buffer reading metadata value flag")
		}
		isString := buf[0] == 1
		buf = buf[1:]
		var mv MetadataValue
		mv.IsString = isString
		if isString {
			if mv.String, buf, err = takeEventId(buf); err != nil {
				return ev, nil, err
			}
		} else {
			if mv.Integer, buf, err = takeUint64(buf); err != nil {
				return ev, nil, err
			}
		}
		ev.Metadata[i] = Metadata{Key: key, Value: mv}
	}

	return ev, buf, nil
}
