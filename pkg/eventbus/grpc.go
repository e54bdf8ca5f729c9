// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package eventbus

import (
	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"

	"github.com/nepos-io/updatecore/pkg/controller"
	"github.com/nepos-io/updatecore/pkg/eventbus/pb"
)

var _ controller.EventSink = (*Bus)(nil)

// grpcSrvr adapts a Bus to pb.EventStreamServer.
type grpcSrvr struct {
	bus *Bus
}

var _ pb.EventStreamServer = (*grpcSrvr)(nil)

// Subscribe streams every event published after the call starts until
// the client disconnects or the stream's context is cancelled.
func (g *grpcSrvr) Subscribe(_ *empty.Empty, stream pb.EventStream_SubscribeServer) error {
	ch, unsubscribe := g.bus.Subscribe()
	defer unsubscribe()

	if last := g.bus.Last(); last != nil {
		if err := stream.Send(last); err != nil {
			return err
		}
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// RegisterOn registers the event stream service on gsrv.
func (b *Bus) RegisterOn(gsrv *grpc.Server) {
	pb.RegisterEventStreamServer(gsrv, &grpcSrvr{bus: b})
}
