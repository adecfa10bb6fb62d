// Package events distributes control-plane events to in-process
// subscribers: instance condition changes, terminated unknown instances and
// deployment lifecycle events.
package events
