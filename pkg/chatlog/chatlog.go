/*
Copyright 2026 The KubeEdge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package chatlog keeps append-only chat logs of device-originated messages.
package chatlog

import (
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/apis/ptalk/v1alpha1"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
)

const (
	DefaultMaxContentLength = 4096
	DefaultFutureTolerance  = 5 * time.Minute
)

// Persister stores logs and messages. dtclient.ChatPersister is the sqlite implementation.
type Persister interface {
	SaveLog(log v1alpha1.ChatLog) error
	SaveMessage(log v1alpha1.ChatLog, msg v1alpha1.ChatMessage) error
	LoadLogs() ([]v1alpha1.ChatLog, error)
	LoadMessages(logID string) ([]v1alpha1.ChatMessage, error)
}

// Options tune message validation. Zero values select the defaults.
type Options struct {
	MaxContentLength int
	FutureTolerance  time.Duration
	// Now is the wall clock used to reject messages from the future.
	Now func() time.Time
}

type chatLog struct {
	meta     v1alpha1.ChatLog
	messages []v1alpha1.ChatMessage
	ids      map[string]struct{}
}

// Store holds chat logs in memory and writes every append through to an
// optional Persister before it becomes visible.
type Store struct {
	mu        sync.RWMutex
	logs      map[string]*chatLog
	opts      Options
	persister Persister
}

// NewStore returns an empty Store. persister may be nil.
func NewStore(opts Options, persister Persister) *Store {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.FutureTolerance <= 0 {
		opts.FutureTolerance = DefaultFutureTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{logs: map[string]*chatLog{}, opts: opts, persister: persister}
}

// Load replaces the content of the store with what the persister holds.
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	metas, err := s.persister.LoadLogs()
	if err != nil {
		return errors.Wrap(err, "load chat logs")
	}
	logs := make(map[string]*chatLog, len(metas))
	for _, meta := range metas {
		msgs, err := s.persister.LoadMessages(meta.ID)
		if err != nil {
			return errors.Wrapf(err, "load messages of %s", meta.ID)
		}
		l := &chatLog{meta: meta, ids: make(map[string]struct{}, len(msgs))}
		for _, m := range msgs {
			l.insert(m)
		}
		logs[meta.ID] = l
	}
	s.mu.Lock()
	s.logs = logs
	s.mu.Unlock()
	klog.Infof("Loaded %d chat logs", len(logs))
	return nil
}

func (s *Store) validate(logID string, msg v1alpha1.ChatMessage) error {
	reject := func(format string, args ...interface{}) error {
		return &mappercommon.MessageValidationError{LogID: logID, MessageID: msg.ID, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case logID == "":
		return reject("log id must not be empty")
	case msg.ID == "":
		return reject("message id must not be empty")
	case len(msg.Content) > s.opts.MaxContentLength:
		return reject("content is %d bytes, limit is %d", len(msg.Content), s.opts.MaxContentLength)
	case !utf8.ValidString(msg.Content):
		return reject("content is not valid UTF-8")
	case msg.Timestamp < 0:
		return reject("timestamp %d is negative", msg.Timestamp)
	}
	if limit := s.opts.Now().Add(s.opts.FutureTolerance).Unix(); msg.Timestamp > limit {
		return reject("timestamp %d is in the future", msg.Timestamp)
	}
	return nil
}

// insert places m after every message with a timestamp not greater than its own.
func (l *chatLog) insert(m v1alpha1.ChatMessage) {
	i := sort.Search(len(l.messages), func(i int) bool { return l.messages[i].Timestamp > m.Timestamp })
	l.messages = append(l.messages, v1alpha1.ChatMessage{})
	copy(l.messages[i+1:], l.messages[i:])
	l.messages[i] = m
	l.ids[m.ID] = struct{}{}
}

// CreateLog materializes an empty log created at ts. An existing log is left unchanged.
func (s *Store) CreateLog(logID string, ts int64) error {
	if logID == "" || ts < 0 {
		return &mappercommon.MessageValidationError{LogID: logID, Reason: "log needs an id and a non-negative timestamp"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[logID]; ok {
		return nil
	}
	meta := v1alpha1.ChatLog{ID: logID, Timestamp: ts}
	if s.persister != nil {
		if err := s.persister.SaveLog(meta); err != nil {
			return err
		}
	}
	s.logs[logID] = &chatLog{meta: meta, ids: map[string]struct{}{}}
	klog.V(4).Infof("Chat log %s created", logID)
	return nil
}

// AppendMessage appends msg to logID, creating the log with the message
// timestamp when absent. A message id already present in the log returns a
// DuplicateKeyError and leaves the log unchanged.
func (s *Store) AppendMessage(logID string, msg v1alpha1.ChatMessage) error {
	if err := s.validate(logID, msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[logID]
	if !ok {
		l = &chatLog{meta: v1alpha1.ChatLog{ID: logID, Timestamp: msg.Timestamp}, ids: map[string]struct{}{}}
	}
	if _, dup := l.ids[msg.ID]; dup {
		return &mappercommon.DuplicateKeyError{LogID: logID, MessageID: msg.ID}
	}
	if s.persister != nil {
		if err := s.persister.SaveMessage(l.meta, msg); err != nil {
			klog.Errorf("Failed to persist message %s of log %s: %v", msg.ID, logID, err)
			return err
		}
	}
	l.insert(msg)
	s.logs[logID] = l
	return nil
}

// GetLog returns a copy of the messages of logID in log order.
func (s *Store) GetLog(logID string) ([]v1alpha1.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[logID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mappercommon.ErrLogNotFound, logID)
	}
	return append([]v1alpha1.ChatMessage(nil), l.messages...), nil
}

// ListLogs returns every log ordered by creation timestamp, ties by id.
func (s *Store) ListLogs() []v1alpha1.ChatLog {
	s.mu.RLock()
	out := make([]v1alpha1.ChatLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l.meta)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListLogsDesc returns every log newest first.
func (s *Store) ListLogsDesc() []v1alpha1.ChatLog {
	out := s.ListLogs()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
