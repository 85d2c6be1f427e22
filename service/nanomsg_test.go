// Copyright 2016 Comcast Cable Communications Management, LLC
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

package service

import (
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-mangos/mangos"
	"github.com/go-mangos/mangos/protocol/pub"
	"github.com/go-mangos/mangos/protocol/sub"
	"github.com/go-mangos/mangos/transport/ipc"
	"github.com/go-mangos/mangos/transport/tcp"

	"github.com/productfarm/ruleengine/core"
	"github.com/productfarm/ruleengine/storage/memory"
)

func TestNanomsg(t *testing.T) {
	in := "tcp://127.0.0.1:40899"
	inboundPrefix := "evals"

	out := "tcp://127.0.0.1:40900"
	outboundPrefix := "results"

	rules := memory.NewRuleRepository()
	rule := core.NewRule("acme", core.JSONLogicRuleType, `{"+":[{"var":"x"},1]}`)
	rule.InputAttributes = []string{"x"}
	rule.OutputAttributes = []string{"y"}
	require.NoError(t, rules.Save(rule))

	engine := &testEngine{rules: rules, cache: core.NewRuleCache(core.DefaultPromotionThreshold)}
	svc := &Service{Engine: engine}

	ns := &NanomsgService{
		Ctx:        core.NewContext("nanomsgTest"),
		Name:       "test",
		FromURL:    in,
		FromPrefix: inboundPrefix,
		Service:    svc,
		ToURL:      out,
		ToPrefix:   outboundPrefix,
	}
	errs := make(chan error, 1)
	go func() {
		for err := range errs {
			if err != nil {
				t.Log(err)
			}
		}
	}()
	err, _ := ns.Go(errs)
	require.NoError(t, err)

	heard := make(chan string, 5)
	{
		sock, err := sub.NewSocket()
		require.NoError(t, err)
		sock.AddTransport(ipc.NewTransport())
		sock.AddTransport(tcp.NewTransport())
		require.NoError(t, sock.Dial(out))
		require.NoError(t, sock.SetOption(mangos.OptionSubscribe, []byte(outboundPrefix)))
		go func() {
			for {
				msg, err := sock.Recv()
				if err != nil {
					return
				}
				log.Printf("heard result %s\n", string(msg))
				heard <- string(msg)
			}
		}()
	}

	sock, err := pub.NewSocket()
	require.NoError(t, err)
	sock.AddTransport(ipc.NewTransport())
	sock.AddTransport(tcp.NewTransport())
	require.NoError(t, sock.Listen(in))
	time.Sleep(time.Second)

	msg := fmt.Sprintf("%s:%s", inboundPrefix, `{"uri":"api/rules/evaluate","product":"acme","inputs":{"x":1}}`)
	require.NoError(t, sock.Send([]byte(msg)))

	select {
	case result := <-heard:
		require.Contains(t, result, "RuleResults")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for nanomsg result")
	}
}
