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
	"bytes"
	"encoding/json"
	"log"

	"github.com/go-mangos/mangos"
	"github.com/go-mangos/mangos/protocol/pub"
	"github.com/go-mangos/mangos/protocol/sub"
	"github.com/go-mangos/mangos/transport/ipc"
	"github.com/go-mangos/mangos/transport/tcp"

	"github.com/productfarm/ruleengine/core"
)

// NanomsgService is an alternate transport for a Service: requests
// arrive as PREFIX:{json} messages on a sub socket instead of HTTP
// POST bodies, and results are republished on a pub socket rather
// than written to a response writer. Evaluation is unaffected either
// way — both transports funnel into Service.ProcessRequest.
//
// Dropped, relative to the original rulio transport: a Javascript
// binding that let script rules publish auxiliary messages mid-eval.
// Nothing in this repository's evaluator package exposes a binding
// hook for rules to call out to, so there is nothing left to drive
// that binding.
type NanomsgService struct {
	Ctx *core.Context

	// Service is the underlying rules service.
	Service *Service

	// Name identifies this listener in logs.
	Name string

	// FromURL is the sub socket's dial address.
	FromURL string

	// FromPrefix is the inbound subscription prefix.
	FromPrefix string

	// ToURL is an optional pub socket address for publishing
	// responses. Empty disables outbound publishing; responses are
	// just logged.
	ToURL string

	// ToPrefix is an optional message prefix for responses published
	// to ToURL.
	ToPrefix string
}

// Go starts the listener in a new goroutine. Provide errs if you want
// to learn about problems as they occur.
func (ns *NanomsgService) Go(errs chan error) (error, chan bool) {
	core.Log(core.INFO, ns.Ctx, "service.NanomsgService", "from", ns.FromURL, "fromPrefix", ns.FromPrefix)
	core.Log(core.INFO, ns.Ctx, "service.NanomsgService", "to", ns.ToURL, "toPrefix", ns.ToPrefix)

	protest := func(err error) {
		if errs != nil {
			errs <- err
		} else {
			log.Printf("NanomsgService %s error %v", ns.Name, err)
		}
	}

	emit := func(msg string) {
		log.Printf("NanomsgService %s result: '%s'", ns.Name, msg)
	}

	if ns.ToURL != "" {
		sock, err := pub.NewSocket()
		if err != nil {
			return err, nil
		}
		sock.AddTransport(ipc.NewTransport())
		sock.AddTransport(tcp.NewTransport())
		if err = sock.Listen(ns.ToURL); err != nil {
			return err, nil
		}

		emit = func(msg string) {
			if ns.ToPrefix != "" {
				msg = ns.ToPrefix + ":" + msg
			}
			if err := sock.Send([]byte(msg)); err != nil {
				protest(err)
			}
		}
	}

	sock, err := sub.NewSocket()
	if err != nil {
		return err, nil
	}
	sock.AddTransport(ipc.NewTransport())
	sock.AddTransport(tcp.NewTransport())
	if err = sock.Dial(ns.FromURL); err != nil {
		return err, nil
	}
	if err = sock.SetOption(mangos.OptionSubscribe, []byte(ns.FromPrefix)); err != nil {
		return err, nil
	}

	ctl := make(chan bool)

	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				protest(err)
				continue
			}
			log.Printf("NanomsgService %s heard %s", ns.Name, msg)

			// Strip a leading PREFIX: if present.
			if at := bytes.IndexByte(msg, '{'); 0 < at {
				msg = msg[at:]
			}

			var m map[string]interface{}
			if err := json.Unmarshal(msg, &m); err != nil {
				protest(err)
				continue
			}

			uri, _ := m["uri"].(string)
			m["uri"] = DWIMURI(ns.Ctx, uri)
			out := bytes.NewBuffer(nil)

			if _, err := ns.Service.ProcessRequest(ns.Ctx, m, out); err != nil {
				protest(err)
				continue
			}
			emit(out.String())
		}
	}()

	return nil, ctl
}
