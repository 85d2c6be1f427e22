// Copyright 2015 Comcast Cable Communications Management, LLC
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
//
// End Copyright

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/productfarm/ruleengine/core"
	"github.com/productfarm/ruleengine/storage/memory"
)

func TestSchedulerFires(t *testing.T) {
	ctx := core.NewContext("schedulerTest")
	s := New(nil, 100*time.Millisecond, "test", 10)
	s.Start(ctx)
	defer s.Kill(ctx)

	var fired int32
	require.NoError(t, s.Add(ctx, "rule-1", "* * * * * * *", func(time.Time) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}))

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&fired) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.True(t, atomic.LoadInt32(&fired) > 0)

	require.Equal(t, 1, s.PendingCount())
}

func TestSchedulerRemAndLimit(t *testing.T) {
	ctx := core.NewContext("schedulerTest")
	s := New(nil, 0, "test", 1)

	require.NoError(t, s.Add(ctx, "a", "* * * * * * *", func(time.Time) error { return nil }))
	err := s.Add(ctx, "b", "* * * * * * *", func(time.Time) error { return nil })
	require.Error(t, err)

	found, err := s.Rem("a")
	require.NoError(t, err)
	require.True(t, found)

	found, err = s.Rem("missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSchedulerSync(t *testing.T) {
	ctx := core.NewContext("schedulerTest")
	s := New(nil, 0, "test", 10)

	rules := memory.NewRuleRepository()
	scheduled := "* * * * * * *"
	rule := core.NewRule("acme", core.JSONLogicRuleType, `{"var":"x"}`)
	rule.Schedule = &scheduled
	require.NoError(t, rules.Save(rule))

	unscheduled := core.NewRule("acme", core.JSONLogicRuleType, `{"var":"y"}`)
	require.NoError(t, rules.Save(unscheduled))

	require.NoError(t, s.Sync(ctx, rules, "acme", func(*core.Rule) error { return nil }))
	require.Equal(t, 1, s.PendingCount())

	rule.Schedule = nil
	require.NoError(t, rules.Save(rule))
	require.NoError(t, s.Sync(ctx, rules, "acme", func(*core.Rule) error { return nil }))
	require.Equal(t, 0, s.PendingCount())
}
