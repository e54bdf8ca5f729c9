// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package pb holds the wire types and gRPC service descriptor for the
// event stream, generated by hand rather than protoc since the six
// lifecycle events need no message beyond these four fields.
package pb

import (
	"context"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"
)

type EventKind int32

const (
	EventKind_UPDATE_AVAILABLE   EventKind = 0
	EventKind_ALREADY_UP_TO_DATE EventKind = 1
	EventKind_CHECK_FAILED       EventKind = 2
	EventKind_UPDATE_PROGRESS    EventKind = 3
	EventKind_UPDATE_SUCCEEDED   EventKind = 4
	EventKind_UPDATE_FAILED      EventKind = 5
)

var eventKindName = map[int32]string{
	0: "UPDATE_AVAILABLE",
	1: "ALREADY_UP_TO_DATE",
	2: "CHECK_FAILED",
	3: "UPDATE_PROGRESS",
	4: "UPDATE_SUCCEEDED",
	5: "UPDATE_FAILED",
}

func (k EventKind) String() string { return eventKindName[int32(k)] }

// Event is the single wire message sent over both the gRPC stream and
// the HTTP long-poll endpoint.
type Event struct {
	Kind     EventKind `protobuf:"varint,1,opt,name=kind,proto3,enum=pb.EventKind" json:"kind,omitempty"`
	Version  uint64    `protobuf:"varint,2,opt,name=version,proto3" json:"version,omitempty"`
	Reason   string    `protobuf:"bytes,3,opt,name=reason,proto3" json:"reason,omitempty"`
	Fraction float64   `protobuf:"fixed64,4,opt,name=fraction,proto3" json:"fraction,omitempty"`
}

func (m *Event) Reset()         { *m = Event{} }
func (m *Event) String() string { return proto.CompactTextString(m) }
func (m *Event) ProtoMessage()  {}

// EventStreamServer is implemented by anything that wants to publish the
// update core's lifecycle events over gRPC.
type EventStreamServer interface {
	Subscribe(*empty.Empty, EventStream_SubscribeServer) error
}

type EventStream_SubscribeServer interface {
	Send(*Event) error
	grpc.ServerStream
}

type eventStreamSubscribeServer struct {
	grpc.ServerStream
}

func (x *eventStreamSubscribeServer) Send(m *Event) error {
	return x.ServerStream.SendMsg(m)
}

func _EventStream_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(empty.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventStreamServer).Subscribe(m, &eventStreamSubscribeServer{stream})
}

var eventStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: "pb.EventStream",
	HandlerType: (*EventStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _EventStream_Subscribe_Handler,
			ServerStreams: true,
		},
	},
}

func RegisterEventStreamServer(s *grpc.Server, srv EventStreamServer) {
	s.RegisterService(&eventStreamServiceDesc, srv)
}

// EventStreamClient is the corresponding client stub, used by tests and
// by cmd/util tools that want to watch events without an HTTP poll loop.
type EventStreamClient interface {
	Subscribe(ctx context.Context, in *empty.Empty) (EventStream_SubscribeClient, error)
}

type EventStream_SubscribeClient interface {
	Recv() (*Event, error)
	grpc.ClientStream
}

type eventStreamClient struct {
	cc *grpc.ClientConn
}

func NewEventStreamClient(cc *grpc.ClientConn) EventStreamClient {
	return &eventStreamClient{cc}
}

func (c *eventStreamClient) Subscribe(ctx context.Context, in *empty.Empty) (EventStream_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &eventStreamServiceDesc.Streams[0], "/pb.EventStream/Subscribe")
	if err != nil {
		return nil, err
	}
	x := &eventStreamSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type eventStreamSubscribeClient struct {
	grpc.ClientStream
}

func (x *eventStreamSubscribeClient) Recv() (*Event, error) {
	m := new(Event)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
