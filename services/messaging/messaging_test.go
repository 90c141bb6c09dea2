// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/careos/careos/services/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject, data})
	return nil
}

var testMsg = Message{
	Title:   "Wellbeing Alert",
	Fields:  []Field{{Label: "Type", Value: "Mood Score Drop"}},
	Actions: []string{"Schedule a private 1:1 conversation"},
}

func TestNATSNotifier_Subjects(t *testing.T) {
	tests := []struct {
		platform datatypes.PlatformType
		want     string
	}{
		{datatypes.PlatformSlack, "careos.notify.slack"},
		{datatypes.PlatformTeams, "careos.notify.teams"},
		{"", "careos.notify.api"},
	}
	n := NewNATSNotifier(&fakePublisher{}, "", nil)
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Subject(tt.platform))
	}

	custom := NewNATSNotifier(&fakePublisher{}, "acme.alerts.", nil)
	assert.Equal(t, "acme.alerts.slack", custom.Subject(datatypes.PlatformSlack))
}

func TestNATSNotifier_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "", nil)
	to := datatypes.PlatformIdentity{UserID: "m1", PlatformType: datatypes.PlatformSlack, PlatformID: "U1"}

	require.NoError(t, n.Notify(context.Background(), to, testMsg))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "careos.notify.slack", pub.msgs[0].subject)

	var env envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &env))
	assert.Equal(t, to, env.To)
	assert.Equal(t, testMsg, env.Message)
}

func TestNATSNotifier_Errors(t *testing.T) {
	boom := errors.New("nats down")
	n := NewNATSNotifier(&fakePublisher{err: boom}, "", nil)
	to := datatypes.PlatformIdentity{UserID: "m1"}

	assert.ErrorIs(t, n.Notify(context.Background(), to, testMsg), boom)
	assert.ErrorIs(t, n.Notify(context.Background(), datatypes.PlatformIdentity{}, testMsg), ErrNoRecipient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, to, testMsg), context.Canceled)
	assert.NoError(t, n.Close())
}

func TestLogNotifier_RecordsMessages(t *testing.T) {
	n := NewLogNotifier(nil)
	to := datatypes.PlatformIdentity{UserID: "m1", PlatformType: datatypes.PlatformAPI}

	require.NoError(t, n.Notify(context.Background(), to, testMsg))
	sent := n.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, to, sent[0].To)

	v, ok := sent[0].Message.Field("Type")
	assert.True(t, ok)
	assert.Equal(t, "Mood Score Drop", v)
	_, ok = sent[0].Message.Field("Missing")
	assert.False(t, ok)
}
