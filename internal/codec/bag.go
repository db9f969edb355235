package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"tabledep/internal/model"
)

const (
	kindInsert = 'I'
	kindUpdate = 'U'
	kindDelete = 'D'

	flagOldValues = 0x01

	headerLen = 2
	nullLen   = -1
)

func kindTag(ct model.ChangeType) (byte, error) {
	switch ct {
	case model.ChangeInsert:
		return kindInsert, nil
	case model.ChangeUpdate:
		return kindUpdate, nil
	case model.ChangeDelete:
		return kindDelete, nil
	}
	return 0, fmt.Errorf("unknown change type %q", ct)
}

func changeType(tag byte) (model.ChangeType, bool) {
	switch tag {
	case kindInsert:
		return model.ChangeInsert, true
	case kindUpdate:
		return model.ChangeUpdate, true
	case kindDelete:
		return model.ChangeDelete, true
	}
	return "", false
}

// EncodeBag writes bag in wire order: one block per column for current
// values, then, for updates carrying old values, one block per column for the
// old values. Columns missing from the bag are written as NULL.
func (c *Codec) EncodeBag(bag *model.MessageBag, columns []string) ([]byte, error) {
	tag, err := kindTag(bag.ChangeType)
	if err != nil {
		return nil, err
	}
	withOld := bag.HasOldValues()
	if withOld && bag.ChangeType != model.ChangeUpdate {
		return nil, fmt.Errorf("old values are only valid for updates, got %s", bag.ChangeType)
	}

	current := make(map[string][]byte, len(columns))
	old := make(map[string][]byte, len(columns))
	for _, m := range bag.Messages {
		if m.IsOldValue {
			old[m.Recipient] = m.Body
		} else {
			current[m.Recipient] = m.Body
		}
	}

	var flags byte
	if withOld {
		flags |= flagOldValues
	}
	out := []byte{tag, flags}
	if out, err = appendBlocks(out, columns, current); err != nil {
		return nil, err
	}
	if withOld {
		if out, err = appendBlocks(out, columns, old); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendBlocks(out []byte, columns []string, values map[string][]byte) ([]byte, error) {
	for _, col := range columns {
		body := values[col]
		if body == nil {
			out = binary.BigEndian.AppendUint32(out, math.MaxUint32)
			continue
		}
		if len(body) > math.MaxInt32 {
			return nil, fmt.Errorf("column %s value too large: %d bytes", col, len(body))
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
		out = append(out, body...)
	}
	return out, nil
}

// DecodeBag parses one wire payload. Recipients are assigned from columns,
// which must be the interested columns in the order the objects were
// provisioned with.
func (c *Codec) DecodeBag(payload []byte, columns []string) (*model.MessageBag, error) {
	if len(payload) < headerLen {
		return nil, &model.MessageDecodeError{Offset: 0, Reason: fmt.Sprintf("payload too short: %d bytes", len(payload))}
	}
	ct, ok := changeType(payload[0])
	if !ok {
		return nil, &model.MessageDecodeError{Offset: 0, Reason: fmt.Sprintf("unknown change kind 0x%02x", payload[0])}
	}
	flags := payload[1]
	if flags&^flagOldValues != 0 {
		return nil, &model.MessageDecodeError{Offset: 1, Reason: fmt.Sprintf("unknown flags 0x%02x", flags)}
	}
	withOld := flags&flagOldValues != 0
	if withOld && ct != model.ChangeUpdate {
		return nil, &model.MessageDecodeError{Offset: 1, Reason: fmt.Sprintf("old values on %s", ct)}
	}

	size := len(columns)
	if withOld {
		size *= 2
	}
	bag := &model.MessageBag{
		ChangeType: ct,
		Messages:   make([]model.Message, 0, size),
		Encoding:   c.name,
	}
	off := headerLen
	var err error
	if bag.Messages, off, err = readBlocks(bag.Messages, payload, off, columns, false); err != nil {
		return nil, err
	}
	if withOld {
		if bag.Messages, off, err = readBlocks(bag.Messages, payload, off, columns, true); err != nil {
			return nil, err
		}
	}
	if off != len(payload) {
		return nil, &model.MessageDecodeError{Offset: off, Reason: fmt.Sprintf("%d trailing bytes", len(payload)-off)}
	}
	return bag, nil
}

func readBlocks(msgs []model.Message, payload []byte, off int, columns []string, old bool) ([]model.Message, int, error) {
	for _, col := range columns {
		if len(payload)-off < 4 {
			return nil, off, &model.MessageDecodeError{Offset: off, Reason: "truncated length prefix for " + col}
		}
		n := int32(binary.BigEndian.Uint32(payload[off:]))
		off += 4
		if n == nullLen {
			msgs = append(msgs, model.Message{Recipient: col, IsOldValue: old})
			continue
		}
		if n < 0 {
			return nil, off, &model.MessageDecodeError{Offset: off - 4, Reason: fmt.Sprintf("negative length %d for %s", n, col)}
		}
		if len(payload)-off < int(n) {
			return nil, off, &model.MessageDecodeError{Offset: off, Reason: fmt.Sprintf("truncated value for %s: want %d bytes, have %d", col, n, len(payload)-off)}
		}
		body := make([]byte, n)
		copy(body, payload[off:off+int(n)])
		off += int(n)
		msgs = append(msgs, model.Message{Recipient: col, Body: body, IsOldValue: old})
	}
	return msgs, off, nil
}
