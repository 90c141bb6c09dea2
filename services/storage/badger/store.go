// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// =============================================================================
// Key Layout
// =============================================================================
//
//	checkin/<id>                          CheckIn JSON
//	checkinday/<user>/<date>              check-in id
//	checkinuser/<user>/<nanos>/<id>       check-in id (time index)
//	deviation/<id>                        Deviation JSON
//	devuser/<user>/<id>                   -
//	devpending/<id>                       -
//	devactive/<user>/<type>               activeDeviation JSON (dedup guard)
//	user/<id>                             User JSON
//	usermgr/<manager>/<id>                -
//	privacy/<id>                          PrivacySettings JSON
//	insight/<id>                          InsightResponse JSON
//	audit/<nanos>/<id>                    AuditLogEntry JSON
//
// Every id segment is path-escaped so ids containing '/' cannot collide.

const (
	pfxCheckIn     = "checkin/"
	pfxCheckInDay  = "checkinday/"
	pfxCheckInUser = "checkinuser/"
	pfxDeviation   = "deviation/"
	pfxDevUser     = "devuser/"
	pfxDevPending  = "devpending/"
	pfxDevActive   = "devactive/"
	pfxUser        = "user/"
	pfxUserMgr     = "usermgr/"
	pfxPrivacy     = "privacy/"
	pfxInsight     = "insight/"
	pfxAudit       = "audit/"
)

func seg(s string) string {
	return url.PathEscape(s)
}

func key(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '/')
		}
		b = append(b, p...)
	}
	return b
}

func prefixKey(prefix string, parts ...string) []byte {
	out := []byte(prefix)
	for _, p := range parts {
		out = append(out, seg(p)...)
		out = append(out, '/')
	}
	return out
}

// nanosSeg renders t as a fixed-width, lexically sortable segment. Times
// outside the int64 nanosecond range are clamped.
func nanosSeg(t time.Time) string {
	var n int64
	switch {
	case t.Before(minIndexTime):
		n = 0
	case t.After(maxIndexTime):
		n = maxIndexTime.UnixNano()
	default:
		n = t.UnixNano()
	}
	return fmt.Sprintf("%020d", n)
}

var (
	minIndexTime = time.Unix(0, 0)
	maxIndexTime = time.Unix(0, 1<<63-1)
)

func checkInKey(id string) []byte { return []byte(pfxCheckIn + seg(id)) }
func deviationKey(id string) []byte { return []byte(pfxDeviation + seg(id)) }
func devPendingKey(id string) []byte { return []byte(pfxDevPending + seg(id)) }
func userKey(id string) []byte { return []byte(pfxUser + seg(id)) }
func privacyKey(id string) []byte { return []byte(pfxPrivacy + seg(id)) }
func insightKey(id string) []byte { return []byte(pfxInsight + seg(id)) }
func checkInDayKey(user, date string) []byte {
	return key(pfxCheckInDay+seg(user), seg(date))
}
func checkInUserKey(user string, ts time.Time, id string) []byte {
	return key(pfxCheckInUser+seg(user), nanosSeg(ts), seg(id))
}
func devUserKey(user, id string) []byte {
	return key(pfxDevUser+seg(user), seg(id))
}
func devActiveKey(user string, t datatypes.DeviationType) []byte {
	return key(pfxDevActive+seg(user), seg(string(t)))
}
func userMgrKey(manager, id string) []byte {
	return key(pfxUserMgr+seg(manager), seg(id))
}

// activeDeviation is the value of the dedup guard key.
type activeDeviation struct {
	ID         string    `json:"id"`
	DetectedAt time.Time `json:"detected_at"`
}

// =============================================================================
// Store
// =============================================================================

// Store implements storage.Store on BadgerDB.
type Store struct {
	db *DB
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a database with cfg and wraps it in a Store.
func NewStore(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewInMemoryStore returns a Store backed by in-memory badger.
func NewInMemoryStore() (*Store, error) {
	return NewStore(InMemoryConfig())
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// JSON helpers
// =============================================================================

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return txn.Set(k, data)
}

func translate(err error, kind, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return err
}

// lastSegment returns the unescaped final '/'-separated segment of k.
func lastSegment(k []byte) string {
	i := len(k) - 1
	for i >= 0 && k[i] != '/' {
		i--
	}
	s, err := url.PathUnescape(string(k[i+1:]))
	if err != nil {
		return string(k[i+1:])
	}
	return s
}

// =============================================================================
// Check-ins
// =============================================================================

func (s *Store) UpsertCheckIn(ctx context.Context, c datatypes.CheckIn) (datatypes.CheckIn, error) {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		dayK := checkInDayKey(c.UserID, c.CheckInDate)
		item, err := txn.Get(dayK)
		switch {
		case err == nil:
			existingID, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			var old datatypes.CheckIn
			if err := getJSON(txn, checkInKey(string(existingID)), &old); err != nil {
				return err
			}
			if err := txn.Delete(checkInUserKey(old.UserID, old.Timestamp, old.ID)); err != nil {
				return err
			}
			c.ID = old.ID
		case errors.Is(err, badger.ErrKeyNotFound):
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
		default:
			return err
		}

		if err := setJSON(txn, checkInKey(c.ID), c); err != nil {
			return err
		}
		if err := txn.Set(dayK, []byte(c.ID)); err != nil {
			return err
		}
		return txn.Set(checkInUserKey(c.UserID, c.Timestamp, c.ID), []byte(c.ID))
	})
	if err != nil {
		return datatypes.CheckIn{}, fmt.Errorf("upsert check-in: %w", err)
	}
	return c, nil
}

func (s *Store) GetCheckIn(ctx context.Context, id string) (datatypes.CheckIn, error) {
	var c datatypes.CheckIn
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, checkInKey(id), &c)
	})
	return c, translate(err, "check-in", id)
}

func (s *Store) UpdateCheckIn(ctx context.Context, id string, upd datatypes.CheckInUpdate) (datatypes.CheckIn, error) {
	var c datatypes.CheckIn
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, checkInKey(id), &c); err != nil {
			return err
		}
		if upd.Visibility != nil {
			c.Visibility = *upd.Visibility
		}
		if upd.Notes != nil {
			c.Notes = *upd.Notes
		}
		return setJSON(txn, checkInKey(id), c)
	})
	return c, translate(err, "check-in", id)
}

func (s *Store) ListCheckIns(ctx context.Context, userID string, since time.Time, limit int) ([]datatypes.CheckIn, error) {
	var out []datatypes.CheckIn
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = s.scanUserCheckIns(txn, userID, since, time.Time{}, limit)
		return err
	})
	return out, err
}

// scanUserCheckIns walks the per-user time index newest first, stopping at
// since. A zero until means no upper bound.
func (s *Store) scanUserCheckIns(txn *badger.Txn, userID string, since, until time.Time, limit int) ([]datatypes.CheckIn, error) {
	prefix := prefixKey(pfxCheckInUser, userID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	lower := string(prefix) + nanosSeg(since)
	var out []datatypes.CheckIn
	seek := append(append([]byte{}, prefix...), 0xFF)
	if !until.IsZero() {
		seek = append([]byte(string(prefix)+nanosSeg(until)+"/"), 0xFF)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().Key()
		if string(k) < lower {
			break
		}
		id, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var c datatypes.CheckIn
		if err := getJSON(txn, checkInKey(string(id)), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListCheckInsInRange(ctx context.Context, userIDs []string, r datatypes.TimeRange) ([]datatypes.CheckIn, error) {
	var out []datatypes.CheckIn
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if userIDs != nil {
			for _, uid := range userIDs {
				cs, err := s.scanUserCheckIns(txn, uid, r.Start, r.End, 0)
				if err != nil {
					return err
				}
				out = append(out, cs...)
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pfxCheckIn)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var c datatypes.CheckIn
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &c) }); err != nil {
				return err
			}
			if r.Contains(c.Timestamp) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// =============================================================================
// Deviations
// =============================================================================

// CreateDeviationIfAbsent uses the devactive guard key as the single point
// of contention per {user, type}. Concurrent callers both read and write it,
// so badger rejects all but one commit with ErrConflict; WithTxn re-runs the
// losers, which then observe the winner's guard and suppress.
func (s *Store) CreateDeviationIfAbsent(ctx context.Context, dev datatypes.Deviation, window time.Duration) (bool, error) {
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	var created bool
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		created = false
		guardK := devActiveKey(dev.UserID, dev.Type)

		var active activeDeviation
		err := getJSON(txn, guardK, &active)
		switch {
		case err == nil:
			var existing datatypes.Deviation
			gerr := getJSON(txn, deviationKey(active.ID), &existing)
			if gerr != nil && !errors.Is(gerr, badger.ErrKeyNotFound) {
				return gerr
			}
			if gerr == nil && !existing.Resolved && !existing.DetectedAt.Before(dev.DetectedAt.Add(-window)) {
				return nil
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		if err := setJSON(txn, deviationKey(dev.ID), dev); err != nil {
			return err
		}
		if err := txn.Set(devUserKey(dev.UserID, dev.ID), nil); err != nil {
			return err
		}
		if dev.Pending() {
			if err := txn.Set(devPendingKey(dev.ID), nil); err != nil {
				return err
			}
		}
		if err := setJSON(txn, guardK, activeDeviation{ID: dev.ID, DetectedAt: dev.DetectedAt}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create deviation: %w", err)
	}
	return created, nil
}

func (s *Store) GetDeviation(ctx context.Context, id string) (datatypes.Deviation, error) {
	var d datatypes.Deviation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, deviationKey(id), &d)
	})
	return d, translate(err, "deviation", id)
}

func (s *Store) ListDeviations(ctx context.Context, userID string, includeResolved bool) ([]datatypes.Deviation, error) {
	var out []datatypes.Deviation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ids := collectIDs(txn, prefixKey(pfxDevUser, userID))
		for _, id := range ids {
			var d datatypes.Deviation
			if err := getJSON(txn, deviationKey(id), &d); err != nil {
				return err
			}
			if includeResolved || !d.Resolved {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, err
}

func (s *Store) ListPendingDeviations(ctx context.Context) ([]datatypes.Deviation, error) {
	var out []datatypes.Deviation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, id := range collectIDs(txn, []byte(pfxDevPending)) {
			var d datatypes.Deviation
			if err := getJSON(txn, deviationKey(id), &d); err != nil {
				return err
			}
			if d.Pending() {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, err
}

func collectIDs(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, lastSegment(it.Item().Key()))
	}
	return ids
}

func (s *Store) MarkDeviationNotified(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var d datatypes.Deviation
		if err := getJSON(txn, deviationKey(id), &d); err != nil {
			return err
		}
		d.ManagerNotified = true
		t := at.UTC()
		d.NotifiedAt = &t
		if err := setJSON(txn, deviationKey(id), d); err != nil {
			return err
		}
		return txn.Delete(devPendingKey(id))
	})
	return translate(err, "deviation", id)
}

func (s *Store) ResolveDeviation(ctx context.Context, id, resolvedBy string, at time.Time) (datatypes.Deviation, error) {
	var d datatypes.Deviation
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, deviationKey(id), &d); err != nil {
			return err
		}
		if d.Resolved {
			return nil
		}
		d.Resolved = true
		d.ResolvedBy = resolvedBy
		t := at.UTC()
		d.ResolvedAt = &t
		if err := setJSON(txn, deviationKey(id), d); err != nil {
			return err
		}
		if err := txn.Delete(devPendingKey(id)); err != nil {
			return err
		}

		guardK := devActiveKey(d.UserID, d.Type)
		var active activeDeviation
		err := getJSON(txn, guardK, &active)
		if err == nil && active.ID == id {
			return txn.Delete(guardK)
		}
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	return d, translate(err, "deviation", id)
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id string) (datatypes.User, error) {
	var u datatypes.User
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	})
	return u, translate(err, "user", id)
}

func (s *Store) PutUser(ctx context.Context, u datatypes.User) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var old datatypes.User
		err := getJSON(txn, userKey(u.ID), &old)
		switch {
		case err == nil:
			if old.ManagerID != "" && old.ManagerID != u.ManagerID {
				if err := txn.Delete(userMgrKey(old.ManagerID, u.ID)); err != nil {
					return err
				}
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}
		if u.ManagerID != "" {
			if err := txn.Set(userMgrKey(u.ManagerID, u.ID), nil); err != nil {
				return err
			}
		}
		return setJSON(txn, userKey(u.ID), u)
	})
}

func (s *Store) ListUsersByRole(ctx context.Context, role datatypes.Role) ([]datatypes.User, error) {
	var out []datatypes.User
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pfxUser)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var u datatypes.User
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &u) }); err != nil {
				return err
			}
			if u.Role == role {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListDirectReports(ctx context.Context, managerID string) ([]datatypes.User, error) {
	var out []datatypes.User
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, id := range collectIDs(txn, prefixKey(pfxUserMgr, managerID)) {
			var u datatypes.User
			if err := getJSON(txn, userKey(id), &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetPrivacySettings(ctx context.Context, userID string) (datatypes.PrivacySettings, error) {
	p := datatypes.DefaultPrivacySettings(userID)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, privacyKey(userID), &p)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return p, err
}

func (s *Store) PutPrivacySettings(ctx context.Context, p datatypes.PrivacySettings) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, privacyKey(p.UserID), p)
	})
}

// =============================================================================
// Insights
// =============================================================================

func (s *Store) SaveInsight(ctx context.Context, r datatypes.InsightResponse) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, insightKey(r.ID), r)
	})
}

func (s *Store) GetInsight(ctx context.Context, id string) (datatypes.InsightResponse, error) {
	var r datatypes.InsightResponse
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, insightKey(id), &r)
	})
	return r, translate(err, "insight", id)
}

func (s *Store) UpdateInsightReview(ctx context.Context, id, reviewer, actionTaken string, at time.Time) (datatypes.InsightResponse, error) {
	var r datatypes.InsightResponse
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, insightKey(id), &r); err != nil {
			return err
		}
		r.HumanReviewed = true
		r.ReviewedBy = reviewer
		t := at.UTC()
		r.ReviewedAt = &t
		r.ActionTaken = actionTaken
		return setJSON(txn, insightKey(id), r)
	})
	return r, translate(err, "insight", id)
}

// =============================================================================
// Audit
// =============================================================================

func (s *Store) AppendAuditEntry(ctx context.Context, entry datatypes.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, key(pfxAudit+nanosSeg(entry.Timestamp), seg(entry.ID)), entry)
	})
}

func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]datatypes.AuditLogEntry, error) {
	var out []datatypes.AuditLogEntry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(pfxAudit)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			var e datatypes.AuditLogEntry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}
