// ABOUTME: asciistream wire protocol package
// ABOUTME: Defines protocol messages and the WebSocket client
// Package protocol implements the asciistream wire protocol.
//
// Every message is a JSON envelope {"type": ..., "payload": ...} carried in a
// WebSocket text frame. Producers announce streams with an invocation and
// push frames as stream items; the hub fans them out to watchers.
//
// The Client implements session.Transport for producers and exposes typed
// channels for watchers.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8937", Role: protocol.RoleWatcher})
//	if _, err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	for f := range client.Frames {
//	    fmt.Print(f.Item)
//	}
package protocol
