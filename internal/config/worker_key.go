package config

type WorkerKeyStruct struct {
	RetryAnswersQueue   string
	ArchiveResultsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	RetryAnswersQueue:   "station:retry_answers_queue",
	ArchiveResultsQueue: "station:archive_results_queue",
}
