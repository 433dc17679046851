package nats

import (
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// nodeFrame is the inter-node encoding of an envelope. The payload blob is
// carried as raw bytes.
type nodeFrame struct {
	Kind        string `msgpack:"k"`
	From        string `msgpack:"f"`
	To          string `msgpack:"t"`
	Payload     []byte `msgpack:"p,omitempty"`
	IsVideoCall bool   `msgpack:"v,omitempty"`
}

func encodeEnvelope(env domain.Envelope) ([]byte, error) {
	return msgpack.Marshal(nodeFrame{
		Kind:        env.Kind.String(),
		From:        env.From.String(),
		To:          env.To.String(),
		Payload:     env.Payload,
		IsVideoCall: env.IsVideoCall,
	})
}

func decodeEnvelope(data []byte) (domain.Envelope, error) {
	var f nodeFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	env := domain.Envelope{
		Kind:        domain.Kind(f.Kind),
		From:        domain.UserID(f.From),
		To:          domain.UserID(f.To),
		Payload:     f.Payload,
		IsVideoCall: f.IsVideoCall,
	}
	if err := env.Validate(); err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}
