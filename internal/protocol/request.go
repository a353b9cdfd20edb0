package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/kis-stream/internal/model"
)

// ErrProtocolMismatch is returned when an operation is given a transaction
// code it does not handle, such as subscribing with a REST code or decoding
// an order-book frame as a trade tick.
var ErrProtocolMismatch = errors.New("protocol mismatch")

// TrType selects register or unregister in the subscribe envelope.
type TrType string

const (
	TrRegister   TrType = "1"
	TrUnregister TrType = "2"
)

const contentType = "text/plain"

// Request is the JSON envelope sent to register or unregister a stream.
type Request struct {
	Header RequestHeader `json:"header"`
	Body   RequestBody   `json:"body"`
}

type RequestHeader struct {
	AppKey      string             `json:"appkey"`
	AppSecret   string             `json:"appsecret"`
	ApprovalKey string             `json:"personalseckey"`
	CustType    model.CustomerType `json:"custtype"`
	TrType      TrType             `json:"tr_type"`
	ContentType string             `json:"Content-Type"`
}

type RequestBody struct {
	Input RequestInput `json:"input"`
}

type RequestInput struct {
	TrID  model.TrID `json:"tr_id"`
	TrKey string     `json:"tr_key"`
}

// Identity is the credential material the envelope carries.
type Identity struct {
	AppKey      string
	AppSecret   string
	ApprovalKey string
	CustType    model.CustomerType
}

// NewRequest builds the envelope for a streaming code. Codes that do not
// name a data channel are rejected with ErrProtocolMismatch.
func NewRequest(id Identity, trType TrType, trID model.TrID, trKey string) (Request, error) {
	if _, ok := trID.Channel(); !ok {
		return Request{}, fmt.Errorf("%w: %s is not a streaming code", ErrProtocolMismatch, trID)
	}
	if trType != TrRegister && trType != TrUnregister {
		return Request{}, fmt.Errorf("invalid tr_type %q", trType)
	}
	custType := id.CustType
	if custType == "" {
		custType = model.CustomerPersonal
	}
	return Request{
		Header: RequestHeader{
			AppKey:      id.AppKey,
			AppSecret:   id.AppSecret,
			ApprovalKey: id.ApprovalKey,
			CustType:    custType,
			TrType:      trType,
			ContentType: contentType,
		},
		Body: RequestBody{Input: RequestInput{TrID: trID, TrKey: trKey}},
	}, nil
}

// Marshal encodes the envelope as sent on the wire.
func (r Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}
