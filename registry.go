package mqttconn

import "sync"

// OperationKind identifies the kind of an in-flight operation.
type OperationKind int

const (
	// OpSubscribe is an in-flight subscribe awaiting its suback.
	OpSubscribe OperationKind = iota

	// OpUnsubscribe is an in-flight unsubscribe awaiting its unsuback.
	OpUnsubscribe

	// OpPublish is an in-flight publish awaiting its acknowledgment.
	OpPublish
)

// String returns the string representation of the operation kind.
func (k OperationKind) String() string {
	switch k {
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	case OpPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// PendingOperation is an in-flight Subscribe, Unsubscribe, or Publish
// awaiting its completion event, keyed by the engine-assigned packet
// identifier.
type PendingOperation struct {
	// Kind is the operation kind.
	Kind OperationKind

	// PacketID is the engine-assigned packet identifier.
	PacketID uint16

	// TopicFilter is set for subscribe and unsubscribe operations.
	TopicFilter string

	// OnComplete fires exactly once when the operation resolves. May be
	// nil when the caller did not ask for completion.
	OnComplete OperationCompleteHandler
}

// Subscription is an active subscription: its filter, requested QoS, and
// the handler invoked for every matching inbound publish.
type Subscription struct {
	TopicFilter string
	QoS         QOS
	OnPublish   PublishReceivedHandler
}

// OperationRegistry tracks in-flight operations keyed by packet identifier
// and the active subscription set for inbound publish dispatch. Packet
// identifiers are allocated by the protocol engine; the registry only
// correlates them, so a duplicate Register signals an engine contract
// violation.
//
// Safe for concurrent use from caller goroutines and the dispatch
// goroutine.
type OperationRegistry struct {
	mu      sync.Mutex
	pending map[uint16]*PendingOperation
	subs    map[string]*Subscription
	matcher *TopicMatcher
	logger  Logger
}

// NewOperationRegistry creates a new operation registry. A nil logger
// disables logging.
func NewOperationRegistry(logger Logger) *OperationRegistry {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &OperationRegistry{
		pending: make(map[uint16]*PendingOperation),
		subs:    make(map[string]*Subscription),
		matcher: NewTopicMatcher(),
		logger:  logger,
	}
}

// Register inserts an in-flight operation. A packet identifier already
// pending is refused with ErrDuplicatePacketID and logged; the engine must
// never assign the same identifier to two simultaneously pending
// operations.
func (r *OperationRegistry) Register(op *PendingOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[op.PacketID]; ok {
		r.logger.Error("engine assigned duplicate packet identifier", LogFields{
			LogFieldPacketID:  op.PacketID,
			LogFieldOperation: op.Kind.String(),
		})
		return &DuplicatePacketIDError{PacketID: op.PacketID}
	}

	r.pending[op.PacketID] = op
	return nil
}

// Resolve removes and returns the operation for the packet identifier.
// Unknown identifiers return false; spurious or duplicate completion
// events are dropped by the caller, never surfaced.
func (r *OperationRegistry) Resolve(packetID uint16) (*PendingOperation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.pending[packetID]
	if !ok {
		return nil, false
	}
	delete(r.pending, packetID)
	return op, true
}

// AbandonAll removes and returns every pending operation, in registration-
// independent order. Used when the connection goes down so each completion
// handler can be resolved exactly once with a failure indication.
func (r *OperationRegistry) AbandonAll() []*PendingOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}

	ops := make([]*PendingOperation, 0, len(r.pending))
	for _, op := range r.pending {
		ops = append(ops, op)
	}
	r.pending = make(map[uint16]*PendingOperation)
	return ops
}

// PendingCount returns the number of in-flight operations.
func (r *OperationRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// AddSubscription registers the publish handler for a topic filter. The
// handler persists until the filter is unsubscribed. Subscribing a filter
// twice replaces the previous handler.
func (r *OperationRegistry) AddSubscription(filter string, qos QOS, onPublish PublishReceivedHandler) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[filter]; ok {
		r.matcher.Unsubscribe(filter)
	}

	sub := &Subscription{
		TopicFilter: filter,
		QoS:         qos,
		OnPublish:   onPublish,
	}
	if err := r.matcher.Subscribe(sub); err != nil {
		return err
	}
	r.subs[filter] = sub
	return nil
}

// RemoveSubscription deregisters the publish handler for a topic filter.
// Returns true if a subscription was removed.
func (r *OperationRegistry) RemoveSubscription(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[filter]; !ok {
		return false
	}
	delete(r.subs, filter)
	r.matcher.Unsubscribe(filter)
	return true
}

// ClearSubscriptions drops every active subscription. Called when the
// session ends, since subscriptions do not survive disconnect.
func (r *OperationRegistry) ClearSubscriptions() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = make(map[string]*Subscription)
	r.matcher = NewTopicMatcher()
}

// Match returns the subscriptions whose filters match the topic.
// Overlapping subscriptions each receive the message independently.
func (r *OperationRegistry) Match(topic string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matcher.Match(topic)
}

// SubscriptionCount returns the number of active subscriptions.
func (r *OperationRegistry) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
