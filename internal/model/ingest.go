package model

// EntryEnvelope carries one entry with the name of the source that produced it.
// It is the transport contract between the source multiplexer and provisioning.
type EntryEnvelope struct {
	Source string
	Entry  Entry
}
