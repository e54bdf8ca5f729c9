// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package eventbus

import (
	"net"
	"net/http"
	"strings"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nepos-io/updatecore/pkg/log"
)

// Server multiplexes a gRPC event stream and an HTTP polling endpoint
// on one listening port, the same cmux split the original all-in-one
// server uses.
type Server struct {
	bus             *Bus
	lis, glis, hlis net.Listener
}

func NewServer(bus *Bus) *Server {
	return &Server{bus: bus}
}

// ServeAt listens on addr and blocks until the listener is closed.
func (s *Server) ServeAt(addr string) error {
	var err error
	s.lis, err = net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	m := cmux.New(s.lis)
	s.glis = m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	s.hlis = m.Match(cmux.HTTP1Fast())

	gsrv := grpc.NewServer()
	s.bus.RegisterOn(gsrv)

	hsrv := &http.Server{Handler: s.bus.Handler()}

	g := new(errgroup.Group)
	g.Go(func() error { return gsrv.Serve(s.glis) })
	g.Go(func() error { return hsrv.Serve(s.hlis) })
	g.Go(func() error { return m.Serve() })

	err = g.Wait()
	closeStr := "use of closed network connection"
	if err != nil && strings.Contains(err.Error(), closeStr) {
		return nil
	}
	return err
}

func (s *Server) Close() {
	log.Log("eventbus: shutting down server...")
	if s.glis != nil {
		s.glis.Close()
	}
	if s.hlis != nil {
		s.hlis.Close()
	}
	if s.lis != nil {
		s.lis.Close()
	}
}
