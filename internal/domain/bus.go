package domain

// MessageBus routes pack requests from channels to the pack service and
// replies back out.
type MessageBus interface {
	Publish(req PackRequest)
	Subscribe() <-chan PackRequest
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
