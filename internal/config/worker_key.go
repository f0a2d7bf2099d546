package config

type WorkerKeyStruct struct {
	NotificationQueue string
}

var WorkerKey = &WorkerKeyStruct{
	NotificationQueue: "exam_session_notification_queue",
}
