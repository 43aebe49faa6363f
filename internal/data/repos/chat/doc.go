// Package chat holds persistence for conversations and their append-only messages.
package chat
