package badger

// MemoryStores bundles in-memory stores sharing one backend, for tests.
type MemoryStores struct {
	Backend       *Backend
	Conversations *ConversationStore
	Knowledge     *KnowledgeIndex
	Intents       *IntentIndex
}

// NewMemoryStores opens an in-memory backend with all three stores.
// Caller must call Close when done.
func NewMemoryStores() (*MemoryStores, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return &MemoryStores{
		Backend:       backend,
		Conversations: NewConversationStore(backend),
		Knowledge:     NewKnowledgeIndex(backend),
		Intents:       NewIntentIndex(backend),
	}, nil
}

// Close closes the shared backend.
func (m *MemoryStores) Close() error {
	return m.Backend.Close()
}
