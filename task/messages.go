package task

// ReqTaskInitGenesis seeds the task catalog with the two genesis entries.
// Sent once, by the node state machine, as the last step of
// verify_node_init.
type ReqTaskInitGenesis struct{}

// AckTaskInitGenesis reports whether genesis seeding succeeded.
type AckTaskInitGenesis struct {
	OK    bool
	Error string
}

// GetTaskList asks for the catalog entries matching IDs (empty means the
// full catalog). The task engine answers it as a local request; its gossip
// handler does not handle the GetTaskListSub sub-topic.
type GetTaskList struct {
	IDs []int64
}

// GetTaskListResponse answers GetTaskList.
type GetTaskListResponse struct {
	Tasks []Data
}

// InvokeTask asks the task engine to run an assigned task. Actually
// launching the external task-process executor is out of scope; the
// engine records the invocation and returns without spawning anything.
type InvokeTask struct {
	TaskID int64
	PeerID string
}

// AckInvokeTask reports that an invocation was recorded.
type AckInvokeTask struct {
	OK bool
}
