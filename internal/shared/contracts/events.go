package contracts

import (
	"encoding/json"
	"time"
)

// Inbound client events.
const (
	EventJoinWorkerRoom = "join_worker_room"
	EventJoinUserRoom   = "join_user_room"
	EventJoinJobRoom    = "join_job_room"
	EventLeaveJobRoom   = "leave_job_room"
	EventAcceptJob      = "accept_job"
	EventDeclineJob     = "decline_job"
	EventStartJob       = "start_job"
	EventUpdateLocation = "update_location"
	EventCompleteJob    = "complete_job"
	EventJobChat        = "job_chat"
	EventUserLocation   = "user_location_update"
)

// Outbound events.
const (
	EventJobRequest           = "job_request"
	EventJobUnavailable       = "job_unavailable"
	EventJobAssigned          = "job_assigned"
	EventJobStarted           = "job_started"
	EventJobCompleted         = "job_completed"
	EventWorkerLocationUpdate = "worker_location_update"
	EventTrackingStopped      = "tracking_stopped"
	EventJobStatus            = "job_status"
	EventChatMessage          = "chat_message"
	EventLocationUpdate       = "location_update"
	EventRoomJoined           = "room_joined"
	EventError                = "error"
)

// ResultEvent names the reply sent back to the connection that issued event.
func ResultEvent(event string) string {
	return event + "_result"
}

// Room names.
func WorkerRoom(id string) string { return "worker-" + id }
func UserRoom(id string) string   { return "user-" + id }
func JobRoom(id string) string    { return "job-" + id }

// Envelope is the wire frame for every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

// --- inbound payloads ---

type JoinRoomRequest struct {
	WorkerID string `json:"workerId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	JobID    string `json:"jobId,omitempty"`
}

// JobActionRequest carries accept_job, start_job and complete_job.
type JobActionRequest struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
}

type DeclineJobRequest struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason,omitempty"`
}

type UpdateLocationRequest struct {
	JobID    string   `json:"jobId"`
	WorkerID string   `json:"workerId"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

type ChatRequest struct {
	JobID   string `json:"jobId"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// UserLocationRequest is the customer sharing their own position with the
// assigned worker.
type UserLocationRequest struct {
	JobID  string   `json:"jobId"`
	UserID string   `json:"userId"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

// --- outbound payloads ---

type JobOffer struct {
	JobID           string     `json:"jobId"`
	Description     string     `json:"description"`
	Address         string     `json:"address"`
	Lat             float64    `json:"lat"`
	Lng             float64    `json:"lng"`
	DistanceKm      float64    `json:"distanceKm"`
	Category        string     `json:"category"`
	PoolSize        int        `json:"poolSize"`
	BookedFor       *time.Time `json:"bookedFor,omitempty"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
}

type JobUnavailable struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

type JobView struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customerId"`
	WorkerID    string  `json:"workerId,omitempty"`
	Description string  `json:"description"`
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Status      string  `json:"status"`
}

// WorkerProfile is the limited worker view shared with customers.
type WorkerProfile struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	ExperienceYears int    `json:"experienceYears"`
}

type JobAssigned struct {
	Job    JobView       `json:"job"`
	Worker WorkerProfile `json:"worker"`
}

// JobTransition is sent for job_started and job_completed.
type JobTransition struct {
	JobID     string    `json:"jobId"`
	WorkerID  string    `json:"workerId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type WorkerLocationUpdate struct {
	JobID     string    `json:"jobId"`
	WorkerID  string    `json:"workerId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessage struct {
	JobID      string    `json:"jobId"`
	Sender     string    `json:"sender"`
	SenderRole string    `json:"senderRole"` // customer | worker
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// LocationUpdate relays a customer's position to the assigned worker.
type LocationUpdate struct {
	Type      string    `json:"type"` // user
	JobID     string    `json:"jobId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type TrackingStopped struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

// JobStatusNotice is an informational message to a customer or job room.
type JobStatusNotice struct {
	Type    string `json:"type"` // info | error
	JobID   string `json:"jobId,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// CommandResult answers an inbound command on the originating connection only.
type CommandResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
