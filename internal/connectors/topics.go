package connectors

const (
	TopicConnStatus = "conn.status"
	TopicLifecycle  = "conn.lifecycle"
	TopicPacket     = "mesh.packet"
	TopicNodeInfo   = "node.info"
	TopicLocalNode  = "node.local"
	TopicChannels   = "channels"
	TopicSendResult = "send.result"
	TopicRawFrameIn = "raw.frame.in"
)
