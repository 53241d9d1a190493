// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowmesh/internal/log"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// fakeCommander is an in-memory Commander with a programmable number of
// failures before writes start succeeding.
type fakeCommander struct {
	store        map[string][]byte
	setCalls     int
	failSetsLeft int
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{store: make(map[string][]byte)}
}

func (f *fakeCommander) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.setCalls++
	if f.failSetsLeft > 0 {
		f.failSetsLeft--
		cmd := redis.NewStatusCmd(ctx)
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.store[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommander) Get(ctx context.Context, key string) *redis.StringCmd {
	data, ok := f.store[key]
	if !ok {
		cmd := redis.NewStringCmd(ctx)
		cmd.SetErr(redis.Nil)
		return cmd
	}
	return redis.NewStringResult(string(data), nil)
}

func (f *fakeCommander) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.store[key]; ok {
			delete(f.store, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func testGateway(fake *fakeCommander) *Gateway {
	return New(fake, "orchestration-data", log.New(log.DefaultConfig()),
		WithRetry(3, time.Millisecond))
}

func TestPutGetRoundTrip(t *testing.T) {
	fake := newFakeCommander()
	g := testGateway(fake)
	ctx := context.Background()

	if err := g.Put(ctx, "flow-1", []byte(`{"stepGraph":{}}`)); err != nil {
		t.Fatal(err)
	}

	got, err := g.Get(ctx, "flow-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"stepGraph":{}}` {
		t.Errorf("Get() = %q", got)
	}

	// Keys are namespaced by map name.
	if _, ok := fake.store["orchestration-data:flow-1"]; !ok {
		t.Errorf("expected namespaced key, store has %v", fake.store)
	}
}

func TestPutRetriesUntilSuccess(t *testing.T) {
	fake := newFakeCommander()
	fake.failSetsLeft = 2
	g := testGateway(fake)

	if err := g.Put(context.Background(), "flow-1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if fake.setCalls != 3 {
		t.Errorf("set calls = %d, want 3", fake.setCalls)
	}
}

func TestPutExhaustsRetryBudget(t *testing.T) {
	fake := newFakeCommander()
	fake.failSetsLeft = 100
	g := testGateway(fake)

	err := g.Put(context.Background(), "flow-1", []byte("x"))
	if err == nil {
		t.Fatal("Put() should fail once the retry budget is spent")
	}
	if kind := flowmesherrors.KindOf(err); kind != flowmesherrors.KindCacheUnavailable {
		t.Errorf("error kind = %v, want cache_unavailable", kind)
	}
	// 1 initial + 3 retries
	if fake.setCalls != 4 {
		t.Errorf("set calls = %d, want 4", fake.setCalls)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	g := testGateway(newFakeCommander())

	_, err := g.Get(context.Background(), "absent")
	if err == nil {
		t.Fatal("Get() should fail for a missing key")
	}
	if kind := flowmesherrors.KindOf(err); kind != flowmesherrors.KindNotFound {
		t.Errorf("error kind = %v, want not_found", kind)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	fake := newFakeCommander()
	g := testGateway(fake)
	ctx := context.Background()

	if err := g.Put(ctx, "flow-1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove(ctx, "flow-1"); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove(ctx, "flow-1"); err != nil {
		t.Errorf("second Remove() should succeed, got %v", err)
	}
	if _, err := g.Get(ctx, "flow-1"); flowmesherrors.KindOf(err) != flowmesherrors.KindNotFound {
		t.Errorf("entry should be gone, got %v", err)
	}
}
