// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/storage"
)

const maxRecordSize = 64

// channelRecord is the persisted form of a channel's configuration.
type channelRecord struct {
	Config     []byte `cbor:"1,keyasint"`
	Upstream   uint8  `cbor:"2,keyasint,omitempty"`
	Requester  uint8  `cbor:"3,keyasint,omitempty"`
	Downstream uint8  `cbor:"4,keyasint,omitempty"`
}

func (m *Manager) persist(c *channel) error {
	if m.store == nil || m.restoring {
		return nil
	}
	cfg := c.config.Encode()
	data, err := cbor.Marshal(channelRecord{
		Config:     cfg[:],
		Upstream:   uint8(c.upstream),
		Requester:  uint8(c.requester),
		Downstream: uint8(c.downstream),
	})
	if err != nil {
		return fmt.Errorf("encode channel %d: %w", c.index, err)
	}
	if err := m.store.Set(ConfigFile, uint16(c.index), data); err != nil {
		return fmt.Errorf("store channel %d: %w", c.index, err)
	}
	return nil
}

// Restore reapplies every persisted channel configuration and re-sends the
// upstream bindings. Channels without a record keep their defaults.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	m.restoring = true
	defer func() { m.restoring = false }()

	var errs []error
	restored := 0
	for _, c := range m.channels {
		data, err := m.store.Get(ConfigFile, uint16(c.index), maxRecordSize)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var rec channelRecord
		if err := cbor.Unmarshal(data, &rec); err != nil || len(rec.Config) != endpoint.ConfigSize {
			errs = append(errs, fmt.Errorf("channel %d record: %w", c.index, endpoint.ErrInvalidParam))
			continue
		}
		cfg := endpoint.DecodeConfig([endpoint.ConfigSize]byte(rec.Config))
		c.requester = endpoint.Endpoint(rec.Requester)
		c.downstream = endpoint.Endpoint(rec.Downstream)

		errs = append(errs, m.ConfigureDownstream(c.index, cfg))
		if upstream := endpoint.Endpoint(rec.Upstream); upstream != endpoint.EndpointNone {
			errs = append(errs, m.ConfigureUpstream(c.index, upstream, c.config))
		}
		restored++
	}

	m.logger.Info("Chain configuration restored", zap.Int("channels", restored))
	return endpoint.Combine(errs...)
}
