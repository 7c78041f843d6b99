package signalrpc

// Intake is the normalized inbound message record the bridge works
// with, produced from a raw envelope by ParseEnvelope.
type Intake struct {
	Sender      string
	SenderName  string
	Timestamp   int64
	Text        string
	Attachments []Attachment
	Quote       *Quote

	// Sync marks a self-sent message echoed from a linked device.
	Sync bool
}

// VoiceNote reports whether the intake's first attachment is a spoken
// voice note.
func (in *Intake) VoiceNote() bool {
	return len(in.Attachments) > 0 && in.Attachments[0].IsVoiceNote()
}

// Images returns the image attachments in order.
func (in *Intake) Images() []Attachment {
	var out []Attachment
	for _, a := range in.Attachments {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}

// ParseEnvelope normalizes a raw envelope into an Intake. It accepts
// direct data messages and self-sent sync messages. Returns (nil,
// false) when the envelope carries neither text nor attachments.
func ParseEnvelope(env *Envelope) (*Intake, bool) {
	if env == nil {
		return nil, false
	}

	in := &Intake{
		Sender:     env.Source,
		SenderName: env.SourceName,
		Timestamp:  env.Timestamp,
	}
	if in.Sender == "" {
		in.Sender = env.SourceNumber
	}

	switch {
	case env.DataMessage != nil:
		dm := env.DataMessage
		in.Text = dm.Message
		in.Attachments = dm.Attachments
		in.Quote = dm.Quote

	case env.SyncMessage != nil && env.SyncMessage.SentMessage != nil:
		sm := env.SyncMessage.SentMessage
		in.Text = sm.Message
		in.Attachments = sm.Attachments
		in.Sync = true

	default:
		return nil, false
	}

	if in.Text == "" && len(in.Attachments) == 0 {
		return nil, false
	}
	return in, true
}
