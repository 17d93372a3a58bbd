// Package codec implements the binary record format used to record and
// replay marketplace events. A stream is a sequence of records, each a
// little-endian int32 event tag followed by a fixed-layout body.
package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// maxString is the longest id or reason a record can carry.
const maxString = 255

var order = binary.LittleEndian

// Marshal encodes a single event record.
func Marshal(ev domain.Event) ([]byte, error) {
	return AppendEvent(nil, ev)
}

// Unmarshal decodes exactly one event record from b.
func Unmarshal(b []byte) (domain.Event, error) {
	r := bytes.NewReader(b)
	ev, err := NewDecoder(r).Decode()
	if errors.Is(err, io.EOF) {
		return domain.Event{}, io.ErrUnexpectedEOF
	}
	if err != nil {
		return domain.Event{}, err
	}
	if r.Len() > 0 {
		return domain.Event{}, fmt.Errorf("codec: %d trailing bytes after record", r.Len())
	}
	return ev, nil
}

// AppendEvent appends the record for ev to dst.
func AppendEvent(dst []byte, ev domain.Event) ([]byte, error) {
	switch ev.Type {
	case domain.EventOfferAdded:
		dst = order.AppendUint32(dst, uint32(domain.EventOfferAdded))
		return appendOffer(dst, ev.Offer)
	case domain.EventOfferRemoved:
		dst = order.AppendUint32(dst, uint32(domain.EventOfferRemoved))
		return appendRemoval(dst, ev.Removal)
	}
	return nil, fmt.Errorf("codec: encode: %w: %d", domain.ErrUnknownEvent, ev.Type)
}

func appendOffer(dst []byte, o domain.Offer) ([]byte, error) {
	side := o.Side.Index()
	if side < 0 {
		return nil, fmt.Errorf("codec: encode offer %s: %w: side %q", o.OrderID, domain.ErrInvalidOffer, o.Side)
	}
	pair := o.Pair.Index()
	if pair < 0 {
		return nil, fmt.Errorf("codec: encode offer %s: %w: pair %q", o.OrderID, domain.ErrInvalidOffer, o.Pair)
	}
	if !o.PaymentOption.Valid() {
		return nil, fmt.Errorf("codec: encode offer %s: %w: payment option %d", o.OrderID, domain.ErrInvalidOffer, o.PaymentOption)
	}
	if o.Price <= 0 {
		return nil, fmt.Errorf("codec: encode offer %s: %w: price %d", o.OrderID, domain.ErrInvalidOffer, o.Price)
	}

	dst, err := appendString(dst, o.OrderID)
	if err != nil {
		return nil, fmt.Errorf("codec: encode offer: %w", err)
	}
	dst = order.AppendUint64(dst, uint64(toSatoshi(o.Amount)))
	dst = order.AppendUint64(dst, uint64(toSatoshi(o.MinAmount)))
	dst = order.AppendUint64(dst, uint64(o.Price))
	dst = order.AppendUint32(dst, uint32(int32(side)))
	dst = order.AppendUint32(dst, uint32(int32(pair)))
	dst = order.AppendUint64(dst, uint64(o.Date.Unix()))
	dst = order.AppendUint32(dst, uint32(int32(o.PaymentOption)))
	return dst, nil
}

// appendRemoval writes id, side, reason and date. The realized price and
// amount are not part of the record.
func appendRemoval(dst []byte, r domain.Removal) ([]byte, error) {
	side := r.Side.Index()
	if side < 0 {
		return nil, fmt.Errorf("codec: encode removal %s: %w: side %q", r.OrderID, domain.ErrInvalidOffer, r.Side)
	}

	dst, err := appendString(dst, r.OrderID)
	if err != nil {
		return nil, fmt.Errorf("codec: encode removal: %w", err)
	}
	dst = order.AppendUint32(dst, uint32(int32(side)))
	if dst, err = appendString(dst, r.Reason); err != nil {
		return nil, fmt.Errorf("codec: encode removal %s: %w", r.OrderID, err)
	}
	dst = order.AppendUint64(dst, uint64(r.Date.Unix()))
	return dst, nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > maxString {
		return nil, fmt.Errorf("string of %d bytes exceeds %d", len(s), maxString)
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...), nil
}

func toSatoshi(q decimal.Decimal) int64 {
	return domain.NormalizeQuantity(q).Shift(domain.QuantityPlaces).IntPart()
}

func fromSatoshi(v int64) decimal.Decimal {
	return decimal.New(v, -domain.QuantityPlaces)
}

// Encoder writes event records to a stream.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one record. It returns the number of bytes written.
func (e *Encoder) Encode(ev domain.Event) (int, error) {
	b, err := AppendEvent(e.buf[:0], ev)
	if err != nil {
		return 0, err
	}
	e.buf = b
	n, err := e.w.Write(b)
	if err != nil {
		return n, fmt.Errorf("codec: write: %w", err)
	}
	return n, nil
}

// Decoder reads event records from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next record. It returns io.EOF at a clean end of the
// stream and io.ErrUnexpectedEOF when a record is cut short.
func (d *Decoder) Decode() (domain.Event, error) {
	var tag [4]byte
	if _, err := io.ReadFull(d.r, tag[:]); err != nil {
		return domain.Event{}, err
	}

	rd := reader{r: d.r}
	switch t := domain.EventType(int32(order.Uint32(tag[:]))); t {
	case domain.EventOfferAdded:
		o := rd.offer()
		if rd.err != nil {
			return domain.Event{}, rd.err
		}
		return domain.OfferAdded(o), nil
	case domain.EventOfferRemoved:
		r := rd.removal()
		if rd.err != nil {
			return domain.Event{}, rd.err
		}
		return domain.OfferRemoved(r), nil
	default:
		return domain.Event{}, fmt.Errorf("codec: decode: %w: %d", domain.ErrUnknownEvent, t)
	}
}

// reader keeps the first error so a record can be read field by field.
type reader struct {
	r   *bufio.Reader
	err error
	buf [8]byte
}

func (rd *reader) fill(n int) []byte {
	if rd.err != nil {
		return nil
	}
	if _, err := io.ReadFull(rd.r, rd.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		rd.err = err
		return nil
	}
	return rd.buf[:n]
}

func (rd *reader) int32() int32 {
	b := rd.fill(4)
	if b == nil {
		return 0
	}
	return int32(order.Uint32(b))
}

func (rd *reader) int64() int64 {
	b := rd.fill(8)
	if b == nil {
		return 0
	}
	return int64(order.Uint64(b))
}

func (rd *reader) string() string {
	b := rd.fill(1)
	if b == nil {
		return ""
	}
	s := make([]byte, b[0])
	if _, err := io.ReadFull(rd.r, s); err != nil {
		rd.err = io.ErrUnexpectedEOF
		return ""
	}
	return string(s)
}

func (rd *reader) side() domain.Side {
	i := rd.int32()
	if rd.err != nil {
		return ""
	}
	s, err := domain.SideByIndex(int(i))
	if err != nil {
		rd.err = fmt.Errorf("codec: decode: %w: %w", domain.ErrInvalidOffer, err)
	}
	return s
}

func (rd *reader) offer() domain.Offer {
	var o domain.Offer
	o.OrderID = rd.string()
	o.Amount = fromSatoshi(rd.int64())
	o.MinAmount = fromSatoshi(rd.int64())
	o.Price = rd.int64()
	o.Side = rd.side()
	pair := rd.int32()
	o.Date = time.Unix(rd.int64(), 0).UTC()
	o.PaymentOption = domain.PaymentOption(rd.int32())
	if rd.err != nil {
		return domain.Offer{}
	}

	p, err := domain.PairByIndex(int(pair))
	if err != nil {
		rd.err = fmt.Errorf("codec: decode offer %s: %w: %w", o.OrderID, domain.ErrInvalidOffer, err)
		return domain.Offer{}
	}
	o.Pair = p
	if !o.PaymentOption.Valid() {
		rd.err = fmt.Errorf("codec: decode offer %s: %w: payment option %d", o.OrderID, domain.ErrInvalidOffer, o.PaymentOption)
		return domain.Offer{}
	}
	if o.Price <= 0 {
		rd.err = fmt.Errorf("codec: decode offer %s: %w: price %d", o.OrderID, domain.ErrInvalidOffer, o.Price)
		return domain.Offer{}
	}
	return o
}

func (rd *reader) removal() domain.Removal {
	var r domain.Removal
	r.OrderID = rd.string()
	r.Side = rd.side()
	r.Reason = rd.string()
	r.Date = time.Unix(rd.int64(), 0).UTC()
	if rd.err != nil {
		return domain.Removal{}
	}
	return r
}
