package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/cosem"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/settings"
	"go.uber.org/zap"
)

// LNRequestItem addresses one attribute or method of a logical name object.
type LNRequestItem struct {
	ClassId uint16
	Obis    dlmsal.DlmsObis
	// also method id
	Attribute        int8
	HasAccess        bool
	AccessDescriptor byte
	AccessData       dlmsal.Value
	// also action data
	SetData dlmsal.Value
}

const rangeDescriptor = 1

var clockColumn = dlmsal.CaptureObject(uint16(cosem.ObjectTypeClock), dlmsal.DlmsObis{C: 1, F: 255}, 2, 0)

// Client is a logical name referencing client on top of Exchange.
type Client struct {
	settings *settings.Settings
	stream   base.Stream
	exchange *Exchange
	logger   *zap.SugaredLogger
	isopen   bool
}

func NewClient(stream base.Stream, s *settings.Settings) *Client {
	return &Client{
		settings: s,
		stream:   stream,
		exchange: NewExchange(s, stream),
	}
}

func (c *Client) logf(format string, v ...any) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}

func (c *Client) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
	c.settings.SetLogger(logger)
	c.stream.SetLogger(logger)
}

func (c *Client) Settings() *settings.Settings {
	return c.settings
}

// Open connects the stream, sets up hdlc link when used and associates.
func (c *Client) Open(ctx context.Context) error {
	if c.isopen {
		return nil
	}
	if err := c.settings.Validate(); err != nil {
		return err
	}
	if err := c.stream.Open(); err != nil {
		return err
	}
	if err := c.associate(ctx); err != nil {
		_ = c.shutdown()
		return err
	}
	c.settings.Connected = true
	c.isopen = true
	return nil
}

func (c *Client) associate(ctx context.Context) error {
	reply := NewReplyData()
	if c.settings.InterfaceType == base.InterfaceTypeHDLC {
		snrm, err := SNRMRequest(c.settings)
		if err != nil {
			return err
		}
		if err = c.exchange.Request(ctx, [][]byte{snrm}, reply); err != nil {
			return fmt.Errorf("snrm: %w", err)
		}
		if reply.Command != base.TagUA {
			return fmt.Errorf("snrm answered by frame %02X: %w", reply.Frame, base.ErrInvalidFrame)
		}
		if err = ParseUAResponse(c.settings, reply.Data); err != nil {
			return err
		}
		reply.Clear()
	}

	aarq, err := AARQRequest(c.settings)
	if err != nil {
		return err
	}
	if err = c.exchange.Request(ctx, aarq, reply); err != nil {
		return fmt.Errorf("unable to receive AARE: %w", err)
	}
	diag, err := dlmsal.ParseAPDU(c.settings, reply.Data)
	if err != nil {
		return fmt.Errorf("unable to parse AARE: %w", err)
	}
	if diag == base.SourceDiagnosticAuthenticationRequired {
		c.logf("Server requires high level authentication, challenge %X", c.settings.StoCChallenge)
	}
	c.logf("Associated, max PDU size: %v, conformance: %06X", c.settings.MaxReceivePDUSize, uint32(c.settings.NegotiatedConformance))
	return nil
}

// Close releases association and hdlc link, the stream is closed whatever
// the peer answers.
func (c *Client) Close(ctx context.Context) error {
	if !c.isopen {
		return c.shutdown()
	}
	c.isopen = false
	c.settings.Connected = false

	err := c.release(ctx)
	if serr := c.shutdown(); err == nil {
		err = serr
	}
	return err
}

// shutdown closes stream association and the transport below it.
func (c *Client) shutdown() error {
	err := c.stream.Close()
	if derr := c.stream.Disconnect(); err == nil {
		err = derr
	}
	return err
}

func (c *Client) release(ctx context.Context) error {
	reply := NewReplyData()
	rlrq, err := ReleaseRequest(c.settings, nil)
	if err != nil {
		return err
	}
	if err = c.exchange.Request(ctx, rlrq, reply); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if _, err = dlmsal.ParseReleaseResponse(reply.Data); err != nil {
		c.logf("Release response ignored: %v", err)
	}
	if c.settings.InterfaceType != base.InterfaceTypeHDLC {
		return nil
	}
	disc, err := DisconnectRequest(c.settings)
	if err != nil {
		return err
	}
	reply.Clear()
	return c.exchange.Request(ctx, [][]byte{disc}, reply)
}

// Disconnect drops the stream without releasing anything.
func (c *Client) Disconnect() error {
	c.isopen = false
	c.settings.Connected = false
	return c.stream.Disconnect()
}

func encodeAttribute(dst *buffer.Buffer, item *LNRequestItem) {
	dst.SetUint16(item.ClassId)
	dst.Set(item.Obis.Bytes())
	dst.SetInt8(item.Attribute)
}

func encodeAccess(dst *buffer.Buffer, item *LNRequestItem) error {
	if !item.HasAccess {
		dst.SetUint8(0)
		return nil
	}
	dst.SetUint8(1)
	dst.SetUint8(item.AccessDescriptor)
	return dlmsal.EncodeData(dst, item.AccessData)
}

func (c *Client) request(ctx context.Context, cmd base.CosemTag, payload []byte) (*ReplyData, error) {
	if !c.isopen {
		return nil, base.ErrNotOpened
	}
	blocks, err := SplitPDU(c.settings, cmd, 1, payload, base.TagResultSuccess, nil)
	if err != nil {
		return nil, err
	}
	if len(blocks) != 1 {
		return nil, fmt.Errorf("request of %d bytes does not fit into one pdu: %w", len(payload), base.ErrInvalidSettings)
	}
	reply := NewReplyData()
	if err = c.exchange.Request(ctx, blocks[0], reply); err != nil {
		return nil, err
	}
	if reply.Error != base.TagResultSuccess {
		return reply, &base.DeviceError{Result: reply.Error}
	}
	return reply, nil
}

// Get reads one attribute, blocks are requested as long as the meter has them.
func (c *Client) Get(ctx context.Context, item LNRequestItem) (dlmsal.Value, error) {
	b := buffer.New(32)
	encodeAttribute(b, &item)
	if err := encodeAccess(b, &item); err != nil {
		return nil, err
	}
	reply, err := c.request(ctx, base.TagGetRequest, b.Array())
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// Set writes one attribute.
func (c *Client) Set(ctx context.Context, item LNRequestItem) error {
	b := buffer.New(32)
	encodeAttribute(b, &item)
	if err := encodeAccess(b, &item); err != nil {
		return err
	}
	if err := dlmsal.EncodeData(b, item.SetData); err != nil {
		return err
	}
	reply, err := c.request(ctx, base.TagSetRequest, b.Array())
	if err != nil {
		return err
	}
	var res [3]byte // type, invoke id, result
	if err = reply.Data.Get(res[:]); err != nil {
		return fmt.Errorf("set response: %w", err)
	}
	if res[2] != 0 {
		return &base.DeviceError{Result: base.DlmsResultTag(res[2])}
	}
	return nil
}

// SetAttribute writes native go value converted to the type the object
// declares for the attribute.
func (c *Client) SetAttribute(ctx context.Context, obj cosem.Object, attribute int8, src any) error {
	v, err := cosem.AttributeValue(obj, int(attribute), src)
	if err != nil {
		return fmt.Errorf("%v attribute %d: %w", obj.LogicalName(), attribute, err)
	}
	return c.Set(ctx, LNRequestItem{
		ClassId:   uint16(obj.ObjectType()),
		Obis:      obj.LogicalName(),
		Attribute: attribute,
		SetData:   v,
	})
}

// ReadRange reads profile buffer entries captured between from and to.
func (c *Client) ReadRange(ctx context.Context, profile cosem.Object, from time.Time, to time.Time) (dlmsal.Array, error) {
	if profile.ObjectType() != cosem.ObjectTypeProfileGeneric {
		return nil, fmt.Errorf("%v is %v, not a profile: %w", profile.LogicalName(), profile.ObjectType(), base.ErrInvalidDataType)
	}
	v, err := c.Get(ctx, LNRequestItem{
		ClassId:          uint16(profile.ObjectType()),
		Obis:             profile.LogicalName(),
		Attribute:        2,
		HasAccess:        true,
		AccessDescriptor: rangeDescriptor,
		AccessData:       dlmsal.RangeDescriptor(clockColumn, dlmsal.NewDlmsDateTimeFromTime(from), dlmsal.NewDlmsDateTimeFromTime(to)),
	})
	if err != nil {
		return nil, err
	}
	switch rows := v.(type) {
	case dlmsal.Array:
		return rows, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("profile buffer is %v: %w", v.Tag(), base.ErrInvalidDataType)
	}
}

// Action invokes method Attribute, the return value is nil when the meter
// returns no data.
func (c *Client) Action(ctx context.Context, item LNRequestItem) (dlmsal.Value, error) {
	b := buffer.New(32)
	encodeAttribute(b, &item)
	if item.SetData == nil {
		b.SetUint8(0)
	} else {
		b.SetUint8(1)
		if err := dlmsal.EncodeData(b, item.SetData); err != nil {
			return nil, err
		}
	}
	reply, err := c.request(ctx, base.TagActionRequest, b.Array())
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}
