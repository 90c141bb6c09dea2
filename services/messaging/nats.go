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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when NATSConfig.SubjectPrefix is empty.
const DefaultSubjectPrefix = "careos.notify"

// Publisher is the part of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// NATSNotifier publishes messages as JSON on <prefix>.<platform>.
//
// # Description
//
// One subject per platform lets each platform adapter subscribe to its own
// traffic. Identities without a platform type go to <prefix>.api.
//
// # Thread Safety
//
// Safe for concurrent use; *nats.Conn is goroutine safe.
type NATSNotifier struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier wraps an existing publisher.
func NewNATSNotifier(pub Publisher, prefix string, logger *slog.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &NATSNotifier{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
	if conn, ok := pub.(*nats.Conn); ok {
		n.conn = conn
	}
	return n
}

// DialNATS connects to NATS and returns a notifier that owns the connection.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "careos"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return NewNATSNotifier(conn, cfg.SubjectPrefix, logger), nil
}

// Subject returns the subject a message for the given platform is sent on.
func (n *NATSNotifier) Subject(platform datatypes.PlatformType) string {
	if platform == "" {
		platform = datatypes.PlatformAPI
	}
	return n.prefix + "." + string(platform)
}

// Notify publishes the message. NATS publish does not take a context, so ctx
// is only checked before publishing.
func (n *NATSNotifier) Notify(ctx context.Context, to datatypes.PlatformIdentity, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if err := checkRecipient(to); err != nil {
		return err
	}
	data, err := json.Marshal(envelope{To: to, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := n.Subject(to.PlatformType)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	n.logger.Debug("Notification published", "subject", subject, "user_id", to.UserID)
	return nil
}

// Close drains the owned connection, if any.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
