package parser

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/protocol"
)

// Parser decodes data frames. The zero value is ready to use.
type Parser struct {
	// Now supplies the current time for frames that carry no business
	// date. Defaults to time.Now.
	Now func() time.Time
}

// Decode decodes a data frame received on ch. Frames for another channel
// are rejected with protocol.ErrProtocolMismatch. c is the personal-fill
// key material and may be nil on market-data channels.
//
// Errors are per frame: *FrameParseError for shape or value problems and
// *decrypt.CryptoError for payloads that cannot be opened.
func (p *Parser) Decode(f *protocol.DataFrame, ch model.Channel, c *decrypt.Cipher) ([]model.Message, error) {
	if got, ok := f.TrID.Channel(); !ok || got != ch {
		return nil, fmt.Errorf("%w: %s frame on %s channel", protocol.ErrProtocolMismatch, f.TrID, ch)
	}

	today := model.BusinessDay(p.now())
	switch ch {
	case model.ChannelTradeTick:
		if f.Encrypted {
			return nil, &FrameParseError{TrID: f.TrID, Index: -1, Err: ErrUnexpectedEncryption}
		}
		return decodeRecords(tickLayout, f.TrID, f.Count, f.Body, today)
	case model.ChannelOrderBook:
		if f.Encrypted {
			return nil, &FrameParseError{TrID: f.TrID, Index: -1, Err: ErrUnexpectedEncryption}
		}
		return decodeRecords(bookLayout, f.TrID, f.Count, f.Body, today)
	case model.ChannelPersonalFill:
		plain, err := openPayload(f, c)
		if err != nil {
			return nil, err
		}
		return decodeRecords(fillLayout, f.TrID, f.Count, plain, today)
	}
	return nil, fmt.Errorf("%w: unknown channel %s", protocol.ErrProtocolMismatch, ch)
}

// openPayload base64-decodes a personal-fill body and decrypts it when the
// frame is flagged as encrypted.
func openPayload(f *protocol.DataFrame, c *decrypt.Cipher) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Body)
	if err != nil {
		return "", &FrameParseError{TrID: f.TrID, Field: "payload", Value: f.Body, Err: err}
	}
	if !f.Encrypted {
		return string(raw), nil
	}
	if c == nil {
		return "", &decrypt.CryptoError{Op: "decrypt", Err: ErrNoCipher}
	}
	return c.Decrypt(raw)
}

func (p *Parser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// TradeTickWidth, OrderBookWidth and PersonalFillWidth are the number of
// positional values in one record of each message type.
var (
	TradeTickWidth    = tickLayout.width()
	OrderBookWidth    = bookLayout.width()
	PersonalFillWidth = fillLayout.width()
)
