// Package state holds the client's process-wide store: the open chat sessions, which of
// them is current, and the global model routing state. It also provides a JSONL log of
// raw bridge frames for replay.
package state
