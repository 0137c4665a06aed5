/* SPDX-License-Identifier: BSD-2-Clause */

package rpc

import (
	"fmt"
	"net/rpc"
)

// Client implements store.Store against a single named resource registered
// on a remote Server.
type Client struct {
	rc *rpc.Client
	id string
}

// Dial connects to a Server at address over the given network (typically
// "tcp") and binds the client to resource id. The resource must already be
// registered on the server via Server.AddResource.
func Dial(network, address, id string) (*Client, error) {
	rc, err := rpc.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s %s: %w", network, address, err)
	}
	return &Client{rc: rc, id: id}, nil
}

// ReadAt fills dst from the remote resource starting at offset.
func (c *Client) ReadAt(dst []byte, offset int64) error {
	args := ReadArgs{ID: c.id, Offset: offset, Size: len(dst)}
	var reply ReadReply
	if err := c.rc.Call("Store.Read", args, &reply); err != nil {
		return fmt.Errorf("rpc: read at %d: %w", offset, err)
	}
	copy(dst, reply.Data)
	return nil
}

// WriteAt writes src to the remote resource starting at offset.
func (c *Client) WriteAt(src []byte, offset int64) error {
	args := WriteArgs{ID: c.id, Offset: offset, Data: src}
	var reply WriteReply
	if err := c.rc.Call("Store.Write", args, &reply); err != nil {
		return fmt.Errorf("rpc: write at %d: %w", offset, err)
	}
	return nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() error {
	return c.rc.Close()
}
