// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tag

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/chain"
	"github.com/Thermoquad/tagbus/pkg/config"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/storage"
)

// hostTransport records what the tag sends to the host
type hostTransport struct {
	mu      sync.Mutex
	records []endpoint.Message
	bulk    [][]byte
}

func (h *hostTransport) Send(kind bulk.Kind, frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch kind {
	case bulk.KindRecord:
		m, err := endpoint.DecodeMessage(frame)
		if err != nil {
			return err
		}
		h.records = append(h.records, m)
	case bulk.KindBulk:
		h.bulk = append(h.bulk, append([]byte(nil), frame...))
	}
	return nil
}

// find returns the first record matching fn
func (h *hostTransport) find(fn func(endpoint.Message) bool) (endpoint.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.records {
		if fn(m) {
			return m, true
		}
	}
	return endpoint.Message{}, false
}

func (h *hostTransport) bulkFrames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.bulk...)
}

// startTag runs tg until the test ends and applies its presets
func startTag(t *testing.T, tg *Tag) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.NoError(t, tg.Start(ctx))
}

func channelState(tg *Tag, index int) (chain.State, error) {
	var state chain.State
	err := tg.Do(context.Background(), func() error {
		var err error
		state, err = tg.Chains().Channel(index)
		return err
	})
	return state, err
}

func temperaturePreset(target endpoint.Target) config.ChannelConfig {
	return config.ChannelConfig{
		Channel:          0,
		Upstream:         uint8(endpoint.EndpointTemperature),
		SampleRate:       1,
		TransmissionRate: endpoint.RateOnSample,
		DSPFunction:      0x00,
		DSPParameter:     1,
		Target:           uint8(target),
	}
}

func newTag(t *testing.T, channels []config.ChannelConfig, opts ...Option) (*Tag, *hostTransport) {
	t.Helper()
	cfg := config.Default()
	cfg.Channels = channels
	cfg.Loop.DrainInterval = 5 * time.Millisecond
	host := &hostTransport{}
	tg, err := New(cfg, host, opts...)
	require.NoError(t, err)
	return tg, host
}

func TestTag_AnswersHostRequests(t *testing.T) {
	tg, host := newTag(t, nil)
	startTag(t, tg)

	require.NoError(t, tg.Deliver(endpoint.NewSensorConfigRead(endpoint.EndpointHost, endpoint.EndpointTemperature)))

	require.Eventually(t, func() bool {
		_, ok := host.find(func(m endpoint.Message) bool {
			return m.Type == endpoint.TypeSensorConfigReply && m.Source == endpoint.EndpointTemperature
		})
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTag_UnknownEndpointReply(t *testing.T) {
	tg, host := newTag(t, nil)
	startTag(t, tg)

	require.NoError(t, tg.Deliver(endpoint.NewSensorConfigRead(endpoint.EndpointHost, endpoint.EndpointGyroscope)))

	require.Eventually(t, func() bool {
		m, ok := host.find(func(m endpoint.Message) bool { return m.Type == endpoint.TypeUnknown })
		return ok && m.Destination == endpoint.EndpointHost && m.Source == endpoint.EndpointGyroscope
	}, time.Second, 5*time.Millisecond)
}

func TestTag_PresetStreamsToHost(t *testing.T) {
	tg, host := newTag(t, []config.ChannelConfig{temperaturePreset(endpoint.TargetGATT)})
	startTag(t, tg)

	state, err := channelState(tg, 0)
	require.NoError(t, err)
	assert.Equal(t, endpoint.EndpointTemperature, state.Upstream)
	assert.Equal(t, endpoint.EndpointHost, state.Requester)

	// the sensor samples once a second
	require.Eventually(t, func() bool {
		_, ok := host.find(func(m endpoint.Message) bool {
			return m.Type == endpoint.TypeInt16 && m.Source == endpoint.ChainEndpoint(0)
		})
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTag_PersistedChannelSkipsPreset(t *testing.T) {
	store := storage.NewMemoryStore()

	first, _ := newTag(t, []config.ChannelConfig{temperaturePreset(endpoint.TargetGATT | endpoint.TargetRAM)}, WithStore(store))
	startTag(t, first)
	require.Contains(t, store.Records(chain.ConfigFile), uint16(0))

	second, _ := newTag(t, []config.ChannelConfig{temperaturePreset(endpoint.TargetGATT)}, WithStore(store))
	startTag(t, second)

	state, err := channelState(second, 0)
	require.NoError(t, err)
	assert.Equal(t, endpoint.TargetGATT|endpoint.TargetRAM, state.Config.Target)
	assert.Equal(t, endpoint.EndpointTemperature, state.Upstream)
}

func TestTag_LogReadArrivesAsBulk(t *testing.T) {
	tg, host := newTag(t, []config.ChannelConfig{temperaturePreset(endpoint.TargetGATT | endpoint.TargetRAM)})
	startTag(t, tg)

	require.Eventually(t, func() bool {
		state, err := channelState(tg, 0)
		return err == nil && state.LogLength >= 2
	}, 4*time.Second, 20*time.Millisecond)

	require.NoError(t, tg.Deliver(endpoint.NewLogRead(endpoint.EndpointHost, 0)))

	r := bulk.NewReassembler(tg.Queue().FramePayloadSize())
	var transfer *bulk.Transfer
	require.Eventually(t, func() bool {
		for _, frame := range host.bulkFrames() {
			if tr, _ := r.Feed(frame); tr != nil {
				transfer = tr
			}
		}
		r.Reset()
		return transfer != nil
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, endpoint.ChainEndpoint(0), transfer.Endpoint)
	require.Zero(t, len(transfer.Data)%endpoint.MessageSize)
	first, err := endpoint.DecodeMessage(transfer.Data[:endpoint.MessageSize])
	require.NoError(t, err)
	assert.Equal(t, endpoint.TypeInt16, first.Type)
}

func TestTag_AdvertisementForwardsToHost(t *testing.T) {
	tg, host := newTag(t, []config.ChannelConfig{temperaturePreset(endpoint.TargetAdvertisement)})
	startTag(t, tg)

	state, err := channelState(tg, 0)
	require.NoError(t, err)
	assert.Equal(t, endpoint.TargetAdvertisement, state.Config.Target)

	require.Eventually(t, func() bool {
		_, ok := host.find(func(m endpoint.Message) bool {
			return m.Type == endpoint.TypeInt16 && m.Source == endpoint.ChainEndpoint(0)
		})
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	_, failed := host.find(func(m endpoint.Message) bool { return m.Type == endpoint.TypeError })
	assert.False(t, failed)
}

func TestTag_CloseFlushesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.cbor")
	cfg := config.Default()
	cfg.Channels = []config.ChannelConfig{temperaturePreset(endpoint.TargetGATT)}
	cfg.Storage.Path = path
	cfg.Storage.FlushInterval = time.Hour
	tg, err := New(cfg, &hostTransport{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tg.Run(ctx)
	}()
	require.NoError(t, tg.Start(ctx))
	assert.NoFileExists(t, path, "records wait for the flush timer")

	cancel()
	<-done

	reopened, err := storage.OpenFile(path)
	require.NoError(t, err)
	assert.Contains(t, reopened.Records(chain.ConfigFile), uint16(0))
}
