package engine

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/settings"
)

// GetValueFromData decodes value starting at reply.ReadPosition. An array or
// structure which is not complete yet is kept in reply.Value together with
// its progress, the next call appends the elements received meanwhile. When
// no more data is expected the block index is reset and reply.Data emptied.
func GetValueFromData(s *settings.Settings, reply *ReplyData) error {
	data := reply.Data
	var info dlmsal.DataInfo
	switch reply.Value.(type) {
	case dlmsal.Array, dlmsal.Structure:
		info = dlmsal.DataInfo{Type: reply.DataType, Count: reply.TotalCount, Index: reply.Count}
	}

	pos := data.Position()
	if err := data.SetPosition(reply.ReadPosition); err != nil {
		return err
	}
	v, err := dlmsal.DecodeData(data, &info)
	if err != nil {
		_ = data.SetPosition(pos)
		return err
	}
	if v != nil {
		switch items := v.(type) {
		case dlmsal.Array:
			if prev, ok := reply.Value.(dlmsal.Array); ok {
				items = append(prev, items...)
			}
			reply.Value = items
			reply.updateProgress(&info, data.Position())
		case dlmsal.Structure:
			if prev, ok := reply.Value.(dlmsal.Structure); ok {
				items = append(prev, items...)
			}
			reply.Value = items
			reply.updateProgress(&info, data.Position())
		default:
			reply.DataType = info.Type
			reply.Value = v
			reply.TotalCount = 0
			reply.ReadPosition = data.Position()
		}
	}
	_ = data.SetPosition(pos)

	if reply.MoreData == base.RequestTypesNone {
		if !info.Complete {
			return fmt.Errorf("incomplete %s value at position %d: %w", info.Type, reply.ReadPosition, base.ErrOutOfRange)
		}
		s.ResetBlockIndex()
		data.Clear()
		reply.ReadPosition = 0
	}
	return nil
}

func (r *ReplyData) updateProgress(info *dlmsal.DataInfo, position int) {
	r.DataType = info.Type
	r.ReadPosition = position
	r.TotalCount = info.Count
	r.Count = info.Index
}
