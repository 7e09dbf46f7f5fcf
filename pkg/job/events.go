package job

// TopicTitleRequested connects the ingress API to the title worker.
const TopicTitleRequested = "youtube.title"

// TitleRequested is the payload published on TopicTitleRequested. It carries
// only the job id and the fields the worker needs, not the full record; the
// worker re-fetches current state from the store by id.
type TitleRequested struct {
	JobID   string `json:"jobId"`
	Email   string `json:"email"`
	Channel string `json:"channel"`
}
