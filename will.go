package mqttconn

// Will is a Last Will and Testament specification: a message the broker
// publishes on the session's behalf if the connection terminates
// unexpectedly.
type Will struct {
	// Topic is the will topic.
	Topic string

	// QoS is the quality of service level for the will publish.
	QoS QOS

	// Retain indicates if the will message should be retained.
	Retain bool

	// Payload is the will payload. The backing memory is borrowed, never
	// copied: it must stay valid for the lifetime of the connection.
	Payload []byte
}

// Validate validates the will specification.
func (w *Will) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return err
	}
	if !w.QoS.Valid() {
		return ErrInvalidQoS
	}
	return nil
}
