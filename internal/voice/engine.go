package voice

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// stubCapabilities is a placeholder RTP capabilities payload. A real engine would report the codecs/header
// extensions its worker process actually supports; this stub reports a fixed set so canConsume has something
// deterministic to compare.
var stubCapabilities = json.RawMessage(`{"codecs":["opus","vp8"]}`)

// StubMediaEngine is the default MediaEngine: it tracks no real media, just mints opaque IDs and echoes back
// fixed capability/parameter payloads. It lets the rest of the control plane (join/leave/produce/consume
// bookkeeping, fan-out, teardown) run and be tested end-to-end without a real SFU binary, matching the
// interface-seam pattern the teacher uses for media.StorageProvider's local disk implementation.
type StubMediaEngine struct{}

// NewStubMediaEngine returns the default in-process MediaEngine.
func NewStubMediaEngine() *StubMediaEngine {
	return &StubMediaEngine{}
}

func (e *StubMediaEngine) CreateRouter(context.Context, int) (string, json.RawMessage, error) {
	return uuid.NewString(), stubCapabilities, nil
}

func (e *StubMediaEngine) CloseRouter(context.Context, string) {}

func (e *StubMediaEngine) CreateWebRtcTransport(context.Context, string) (string, json.RawMessage, error) {
	return uuid.NewString(), json.RawMessage(`{"iceCandidates":[],"iceParameters":{},"dtlsParameters":{}}`), nil
}

func (e *StubMediaEngine) ConnectTransport(context.Context, string, json.RawMessage) error {
	return nil
}

func (e *StubMediaEngine) CloseTransport(context.Context, string) {}

func (e *StubMediaEngine) Produce(context.Context, string, Kind, json.RawMessage) (string, error) {
	return uuid.NewString(), nil
}

func (e *StubMediaEngine) PauseProducer(context.Context, string) error  { return nil }
func (e *StubMediaEngine) ResumeProducer(context.Context, string) error { return nil }
func (e *StubMediaEngine) CloseProducer(context.Context, string)       {}

func (e *StubMediaEngine) CanConsume(context.Context, string, string, json.RawMessage) bool {
	return true
}

func (e *StubMediaEngine) Consume(context.Context, string, string) (string, json.RawMessage, error) {
	return uuid.NewString(), json.RawMessage(`{}`), nil
}

func (e *StubMediaEngine) ResumeConsumer(context.Context, string) error { return nil }

func (e *StubMediaEngine) SetConsumerLayers(context.Context, string, *int, *int) error { return nil }

func (e *StubMediaEngine) CloseConsumer(context.Context, string) {}
