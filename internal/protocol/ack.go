package protocol

import (
	"fmt"

	"github.com/rickgao/kis-stream/internal/model"
)

// Acknowledgement texts. Anything else in body.msg1 is a rejection.
const (
	MsgSubscribeSuccess   = "SUBSCRIBE SUCCESS"
	MsgUnsubscribeSuccess = "UNSUBSCRIBE SUCCESS"
)

// Ack is the outcome of one subscribe or unsubscribe request. IV and Key
// are only set for personal fills; they are the AES parameters for every
// later frame on that channel until the next subscription.
type Ack struct {
	TrID    model.TrID
	TrKey   string
	Success bool
	Message string
	IV      string
	Key     string
}

// AckFor interprets a control frame as the answer to a request of the
// given type.
func AckFor(c *ControlFrame, trType TrType) Ack {
	want := MsgSubscribeSuccess
	if trType == TrUnregister {
		want = MsgUnsubscribeSuccess
	}
	return Ack{
		TrID:    c.TrID,
		TrKey:   c.TrKey,
		Success: c.Message == want,
		Message: c.Message,
		IV:      c.IV,
		Key:     c.Key,
	}
}

// HasCipher reports whether the ack carries decryption parameters.
func (a Ack) HasCipher() bool {
	return a.IV != "" && a.Key != ""
}

func (a Ack) String() string {
	return fmt.Sprintf("%s/%s success=%t msg=%q", a.TrID, a.TrKey, a.Success, a.Message)
}
